package domain

// Resource is a saved bookmark as injected into the stream by the agent.
type Resource struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Digest    string   `json:"digest"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// ResourcePreview is the AI-generated draft for a link that is not saved yet.
type ResourcePreview struct {
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Digest string   `json:"digest"`
	URL    string   `json:"url"`
}

// PreviewRequest is the body of the preview endpoint.
type PreviewRequest struct {
	URL  string `json:"url"`
	Note string `json:"note"`
}
