package version

// Version is the weft version, overridden at build time via
// -ldflags "-X github.com/weftwork/weft/pkg/version.Version=...".
var Version = "dev"
