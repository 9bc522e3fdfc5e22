package version

// Version is the current version of the studyroom binary.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/Sharif2023/StudyNest-sub001/internal/version.Version=v1.0.0'"
var Version = "dev"
