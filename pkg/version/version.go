package version

// Version is the current version of the emotion detector
const Version = "0.3.0"

// Name is the product name shown in headers and the page footer
const Name = "emotion-detector"

// UserAgent returns name/version as printed by the version command
func UserAgent() string {
	return Name + "/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return Name + "/" + Version
}
