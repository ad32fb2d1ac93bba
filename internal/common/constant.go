package common

// AccessTokenHeaderName is the HTTP header carrying the bearer access token.
const AccessTokenHeaderName = "Authorization"

// Crawl kinds stored in the crawls table. Uploads share the table with
// regular crawls and are told apart by kind.
const (
	KindUpload = "upload"
	KindCrawl  = "crawl"
)

// StateComplete is the only state an upload is ever observable in.
const StateComplete = "complete"

// DefaultStorageName identifies the storage backend files are written to.
const DefaultStorageName = "default"

// S3MinPartSize is the smallest part S3 accepts for any multipart part but
// the last.
const S3MinPartSize int64 = 5 << 20

// MinUploadPartSize is the smallest multipart part the stream path hands to
// object storage, except for the final part.
const MinUploadPartSize int64 = 10_000_000
