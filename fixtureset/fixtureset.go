// Package fixtureset stores the documents of a fixture set in a local
// directory or under an S3 prefix.
package fixtureset

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrInvalidName is returned for document names that are not plain file names.
var ErrInvalidName = errors.New("fixtures: invalid fixture name")

// Set lists, reads and writes fixture documents.
type Set interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// Open returns the fixture set at location: "s3://bucket/prefix" for an
// S3 prefix, anything else for a local directory.
func Open(ctx context.Context, location string, optFns ...func(*s3.Options)) (Set, error) {
	if !strings.HasPrefix(location, "s3://") {
		return NewDir(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", location, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("s3 location %q has no bucket", location)
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBucket(s3.NewFromConfig(cfg, optFns...), u.Host, u.Path), nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
