// Package minio stores page blobs in MinIO or any S3-compatible service
// through minio-go.
//
//	client, _ := minio.New("localhost:9000", &minio.Options{...})
//	store := minio.NewStore(client, "pagedb", "indexes/orders")
//	_ = store.EnsureBucket(ctx)
package minio
