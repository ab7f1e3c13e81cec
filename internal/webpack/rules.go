package webpack

const (
	LoaderJSON        = "json-loader"
	LoaderBabel       = "babel-loader"
	LoaderTypeScript  = "awesome-typescript-loader"
	LoaderExtractText = "extract-text-loader"
	LoaderCSS         = "css-loader"
	LoaderPostCSS     = "postcss-loader"
	LoaderFile        = "file-loader"
	LoaderURL         = "url-loader"
)

const (
	// MediaFilename is where file and url loaders place emitted assets.
	MediaFilename = "static/media/[name].[hash:8].[ext]"
	// URLInlineLimit is the size in bytes under which url loader inlines a
	// file as a data URL.
	URLInlineLimit = 10000
)

const (
	PatternJSON       = `\.json$`
	PatternScript     = `\.jsx?$`
	PatternTypeScript = `\.tsx?$`
	PatternStyle      = `\.s?css$`
	PatternImage      = `\.(ico|jpg|jpeg|png|gif|eot|otf|webp|svg|ttf|woff|woff2)(\?.*)?$`
	PatternMedia      = `\.(mp4|webm|wav|mp3|m4a|aac|oga)(\?.*)?$`
)

var defaultExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".json", ".css", ".scss", ".less"}

func makeRules(mode Mode) Rules {
	babel := Babel(mode)
	postcss := PostCSS()

	return Rules{
		{Test: PatternJSON, Use: []Loader{{Loader: LoaderJSON}}},
		{Test: PatternScript, Use: []Loader{{Loader: LoaderBabel, Options: babel.LoaderOptions()}}},
		{Test: PatternTypeScript, Use: []Loader{{Loader: LoaderTypeScript}}},
		{Test: PatternStyle, Use: []Loader{
			{Loader: LoaderExtractText, Options: map[string]any{"filename": StylesFilename}},
			{Loader: LoaderCSS, Options: map[string]any{
				"sourceMap":      true,
				"modules":        true,
				"importLoaders":  1,
				"localIdentName": "[local]",
			}},
			{Loader: LoaderPostCSS, Options: postcss.LoaderOptions()},
		}},
		// file loader emits the asset and the import resolves to its URL
		{Test: PatternImage, Use: []Loader{{Loader: LoaderFile, Options: map[string]any{
			"name": MediaFilename,
		}}}},
		// url loader behaves like file loader but inlines small files
		{Test: PatternMedia, Use: []Loader{{Loader: LoaderURL, Options: map[string]any{
			"limit": URLInlineLimit,
			"name":  MediaFilename,
		}}}},
	}
}
