package azureblob

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const (
	// DefaultUploadTimeout bounds every upload call.
	DefaultUploadTimeout = 30 * time.Second
	// DefaultPartSize is the block size of staged uploads.
	DefaultPartSize = 4 << 20
	// MaxBlocks is the service limit on committed blocks per blob.
	MaxBlocks = 50000
)

// Config describes an account and container. It is read-only once handed
// to New; missing credentials surface on the first call, not here.
type Config struct {
	AccountName string
	AccessKey   string
	Container   string

	// ServiceURL overrides https://<account>.blob.core.windows.net/.
	ServiceURL string

	// MultipartThreshold selects staged block uploads per size class.
	MultipartThreshold Thresholds
	// PartSize is the block size used above the threshold.
	PartSize int64

	// UploadTimeout is the deadline of each upload. Zero means
	// DefaultUploadTimeout, negative disables it.
	UploadTimeout time.Duration

	// Transport replaces the HTTP client used by the SDK pipeline.
	Transport policy.Transporter
}

// Thresholds maps size classes to byte counts. Zero disables a class.
type Thresholds struct {
	// Upload is the object size from which uploads are staged in blocks.
	Upload int64
}

func (c Config) serviceURL() string {
	if c.ServiceURL != "" {
		if !strings.HasSuffix(c.ServiceURL, "/") {
			return c.ServiceURL + "/"
		}
		return c.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

func (c Config) uploadTimeout() time.Duration {
	if c.UploadTimeout == 0 {
		return DefaultUploadTimeout
	}
	return c.UploadTimeout
}

func (c Config) partSize() int64 {
	if c.PartSize <= 0 {
		return DefaultPartSize
	}
	return c.PartSize
}

func (c Config) staged(size int64) bool {
	return c.MultipartThreshold.Upload > 0 && size >= c.MultipartThreshold.Upload
}
