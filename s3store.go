package zarr

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// protocol markers that route a store root to the object store backend
var s3Protocols = []string{"https://", "http://", "s3://"}

const (
	defaultS3Region = "us-east-1"
	listPageSize    = 1000
)

// IsS3Root reports whether root encodes an object store endpoint
func IsS3Root(root string) bool {
	_, _, ok := cutProtocol(root)
	return ok
}

func cutProtocol(root string) (protocol, rest string, ok bool) {
	lower := strings.ToLower(root)
	for _, p := range s3Protocols {
		if strings.HasPrefix(lower, p) {
			return p, root[len(p):], true
		}
	}
	return "", root, false
}

// S3Root is an object store root split into its parts
type S3Root struct {
	Endpoint string
	Bucket   string
	Prefix   string
	Secure   bool
}

// ParseS3Root splits protocol://endpoint/bucket/prefix... into its parts
func ParseS3Root(root string) (S3Root, error) {
	protocol, rest, ok := cutProtocol(root)
	if !ok {
		return S3Root{}, fmt.Errorf("%q has no object store protocol", root)
	}
	parts := strings.SplitN(strings.Trim(rest, Delimiter), Delimiter, 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return S3Root{}, fmt.Errorf("object store root %q must name an endpoint and a bucket", root)
	}
	r := S3Root{
		Endpoint: parts[0],
		Bucket:   parts[1],
		Secure:   protocol != "http://",
	}
	if len(parts) == 3 {
		r.Prefix = strings.Trim(parts[2], Delimiter)
	}
	return r, nil
}

// S3Store reads an anonymous, path-style S3 compatible bucket. It is read-only:
// Put and Delete return ErrReadOnly.
type S3Store struct {
	root      S3Root
	client    *minio.Core
	transport *http.Transport
	log       *slog.Logger
}

var _ Store = (*S3Store)(nil)

// NewS3Store constructs the one client used for every request against root
func NewS3Store(root string, o *storeOptions) (*S3Store, error) {
	if o == nil {
		o = &storeOptions{logger: discardLogger()}
	}
	r, err := ParseS3Root(root)
	if err != nil {
		return nil, err
	}
	if o.secure != nil {
		r.Secure = *o.secure
	}
	region := o.region
	if region == "" {
		region = defaultS3Region
	}
	transport, err := minio.DefaultTransport(r.Secure)
	if err != nil {
		return nil, err
	}
	client, err := minio.NewCore(r.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4("", "", ""),
		Secure:       r.Secure,
		Transport:    transport,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
		MaxRetries:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 client for %q: %w", r.Endpoint, err)
	}
	o.logger.Info("opened object store", "endpoint", r.Endpoint, "bucket", r.Bucket, "prefix", r.Prefix)
	return &S3Store{root: r, client: client, transport: transport, log: o.logger}, nil
}

func (s *S3Store) Type() string { return S3StoreType }

// Root returns the parsed endpoint, bucket and prefix
func (s *S3Store) Root() S3Root { return s.root }

func (s *S3Store) objectKey(key string) string {
	return JoinKey(s.root.Prefix, key)
}

func (s *S3Store) Get(key string) (io.ReadCloser, error) {
	objectKey := s.objectKey(key)
	body, _, _, err := s.client.GetObject(context.Background(), s.root.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		s.log.Debug("unable to access key", "key", objectKey, "error", err)
		return nil, fmt.Errorf("reading %s: %w", objectKey, err)
	}
	return body, nil
}

func (s *S3Store) Put(key string, val io.Reader) error {
	return fmt.Errorf("%w: put %s", ErrReadOnly, key)
}

func (s *S3Store) Delete(key string) error {
	return fmt.Errorf("%w: delete %s", ErrReadOnly, key)
}

// listPages issues prefix listing requests, continuing only while the store
// reports the listing as truncated
func (s *S3Store) listPages(prefix string, fn func(objectKey string) bool) error {
	listPrefix := s.objectKey(prefix)
	if listPrefix != "" {
		listPrefix += Delimiter
	}
	marker := ""
	for {
		res, err := s.client.ListObjects(s.root.Bucket, listPrefix, marker, "", listPageSize)
		if err != nil {
			return fmt.Errorf("listing %s: %w", listPrefix, err)
		}
		for _, obj := range res.Contents {
			if !fn(obj.Key) {
				return nil
			}
			marker = obj.Key
		}
		if !res.IsTruncated {
			return nil
		}
		if res.NextMarker != "" {
			marker = res.NextMarker
		}
		if len(res.Contents) == 0 && res.NextMarker == "" {
			return nil
		}
	}
}

func (s *S3Store) relative(objectKey string) (string, bool) {
	if s.root.Prefix == "" {
		return objectKey, true
	}
	if !strings.HasPrefix(objectKey, s.root.Prefix+Delimiter) {
		return "", false
	}
	return objectKey[len(s.root.Prefix)+1:], true
}

func (s *S3Store) ListKeysWithSuffix(prefix, suffix string) ([]string, error) {
	set := map[string]struct{}{}
	err := s.listPages(prefix, func(objectKey string) bool {
		if !strings.Contains(objectKey, suffix) {
			return true
		}
		if key, ok := s.relative(objectKey); ok {
			if node, ok := keyWithSuffix(key, prefix, suffix); ok {
				set[node] = struct{}{}
			}
		}
		return true
	})
	if err != nil {
		s.log.Warn("listing keys failed", "prefix", prefix, "suffix", suffix, "error", err)
		return []string{}, nil
	}
	return sortedKeys(set), nil
}

func (s *S3Store) ListLeafKeys(prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := s.listPages(prefix, func(objectKey string) bool {
			key, ok := s.relative(objectKey)
			if !ok {
				return true
			}
			if !yield(key, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// Close releases idle connections held by the client transport
func (s *S3Store) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

func isS3NotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == http.StatusNotFound
}
