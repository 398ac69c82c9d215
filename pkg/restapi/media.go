package restapi

// MediaType is the value sent in the Accept header.
type MediaType string

// MediaTypeJSON is the default media type.
const MediaTypeJSON MediaType = "application/json"

// Preview returns the media type that opts into a named API preview.
func Preview(name string) MediaType {
	return MediaType("application/vnd.github." + name + "-preview+json")
}

// String implements fmt.Stringer. The empty media type reads as JSON.
func (m MediaType) String() string {
	if m == "" {
		return string(MediaTypeJSON)
	}

	return string(m)
}
