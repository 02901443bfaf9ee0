package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/function61/gokit/aws/s3facade"
	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/shard"
)

type s3Store struct {
	bucket string
	folder string
	client *s3.S3
	logl   *logex.Leveled
}

func newS3Store(opts string, folder string, logger *log.Logger) (*s3Store, error) {
	bucket, regionId, accessKeyId, secret, err := parseOptionsString(opts)
	if err != nil {
		return nil, err
	}

	client, err := s3facade.Client(accessKeyId, secret, regionId)
	if err != nil {
		return nil, err
	}

	return &s3Store{
		bucket: bucket,
		folder: folder,
		client: client,
		logl:   logex.Levels(logger),
	}, nil
}

func (g *s3Store) ListShards(ctx context.Context, label string, source string) ([]shard.State, error) {
	prefix := g.folder + "/" + label + "/"

	bytesPerShard := map[int]int64{}

	if err := g.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: &g.bucket,
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			// <folder>/<label>/<shardName>/<fileName>
			rel := strings.TrimPrefix(*obj.Key, prefix)
			slash := strings.Index(rel, "/")
			if slash == -1 {
				continue
			}

			suffix, ok := shard.ParseSuffix(source, rel[:slash])
			if !ok {
				continue
			}

			bytesPerShard[suffix] += *obj.Size
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("s3 ListObjectsV2: %v", err)
	}

	states := []shard.State{}
	for suffix, bytes := range bytesPerShard {
		states = append(states, shard.State{Suffix: suffix, Bytes: bytes})
	}

	return states, nil
}

func (g *s3Store) ListFiles(ctx context.Context, label string, shardName string) (map[string]int64, error) {
	prefix := g.folder + "/" + label + "/" + shardName + "/"

	files := map[string]int64{}

	if err := g.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: &g.bucket,
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}

			files[name] = *obj.Size
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("s3 ListObjectsV2: %v", err)
	}

	return files, nil
}

func (g *s3Store) Upload(ctx context.Context, label string, shardName string, fileName string, content io.Reader, size int64) error {
	// S3 internally requires retry support and thus an io.ReadSeeker, so
	// we're forced to buffer
	buf, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	key := g.folder + "/" + label + "/" + shardName + "/" + fileName

	if _, err := g.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &g.bucket,
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	}); err != nil {
		return fmt.Errorf("s3 PutObject: %v", err)
	}

	return nil
}

var parseOptionsStringRe = regexp.MustCompile("^([^:]+):([^:]+):([^:]+):([^:]+)$")

func parseOptionsString(serialized string) (string, string, string, string, error) {
	match := parseOptionsStringRe.FindStringSubmatch(serialized)
	if match == nil {
		return "", "", "", "", errors.New("s3 options not in format bucket:region:accessKeyId:secret")
	}

	return match[1], match[2], match[3], match[4], nil
}
