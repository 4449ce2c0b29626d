package cfg

type Cfg struct {
	// Storage configuration
	DataDir string

	// Application configuration
	FeedsDir     string
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Update loop configuration
	WatchInterval int // minimum sleep between passes, seconds
	Once          bool
	Force         bool
	ForceFeed     string

	// Media cache configuration
	MediaTimeout  int // seconds
	MediaParallel int

	// AI filter configuration
	OpenAIKey   string
	OpenAIModel string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
