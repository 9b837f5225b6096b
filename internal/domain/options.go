package domain

// DownloadOptions is the string-typed option bag front-ends submit with an
// add request. It is parsed exactly once, by the adapter, into typed engine
// options.
type DownloadOptions struct {
	// GID requests a specific identifier; used when restoring a transfer so
	// its gid survives restarts.
	GID                    string   `json:"gid,omitempty"`
	Dir                    string   `json:"dir,omitempty"`
	Out                    string   `json:"out,omitempty"`
	MaxConnectionPerServer string   `json:"max_connection_per_server,omitempty"`
	UserAgent              string   `json:"user_agent,omitempty"`
	Referer                string   `json:"referer,omitempty"`
	Header                 []string `json:"header,omitempty"`
	Cookies                string   `json:"cookies,omitempty"`
	ChecksumType           string   `json:"checksum_type,omitempty"`
	ChecksumValue          string   `json:"checksum_value,omitempty"`
	MirrorURLs             []string `json:"mirror_urls,omitempty"`
	Priority               string   `json:"priority,omitempty"`
	SelectFile             string   `json:"select_file,omitempty"`
	SeedRatio              string   `json:"seed_ratio,omitempty"`
	MaxDownloadLimit       string   `json:"max_download_limit,omitempty"`
	MaxUploadLimit         string   `json:"max_upload_limit,omitempty"`
	Sequential             bool     `json:"sequential,omitempty"`
}
