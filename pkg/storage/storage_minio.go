// Copyright 2025 Crucible Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// MinioConfig holds object-store connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	BasePath  string
	UseSSL    bool
}

// MinioStore is the object-store CodeStore implementation.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect minio")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "create bucket")
		}
	}

	return &MinioStore{client: client, cfg: cfg}, nil
}

func (s *MinioStore) objectName(pluginID, version string) string {
	return path.Join(s.cfg.BasePath, "plugins", pluginID, version+".lua")
}

func (s *MinioStore) StoreCode(ctx context.Context, pluginID, version, code string) error {
	name := s.objectName(pluginID, version)
	reader := strings.NewReader(code)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, name, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/x-lua",
	})
	if err != nil {
		return errors.Wrapf(err, "store code %s", name)
	}
	return nil
}

func (s *MinioStore) LoadCode(ctx context.Context, pluginID, version string) (string, error) {
	name := s.objectName(pluginID, version)
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "load code %s", name)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return "", errors.Wrapf(err, "read code %s", name)
	}
	return buf.String(), nil
}

func (s *MinioStore) DeleteCode(ctx context.Context, pluginID, version string) error {
	name := s.objectName(pluginID, version)
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete code %s: %w", name, err)
	}
	return nil
}
