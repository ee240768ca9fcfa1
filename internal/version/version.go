package version

// Populated with -ldflags at build time; defaults are for dev runs.
var (
	AppName    = "Jukebird"
	AppVersion = "dev"
)
