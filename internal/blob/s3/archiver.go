package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/settlement"
)

// SnapshotArchiver implements settlement.Archiver by uploading the finalized
// pool document as a JSON object keyed by pool identity. Archival is
// best-effort from the caller's point of view; finalization never rolls back
// on an upload failure.
type SnapshotArchiver struct {
	client *s3.Client
	bucket string
}

// NewSnapshotArchiver creates an archiver writing to the client's bucket.
func NewSnapshotArchiver(c *Client) *SnapshotArchiver {
	return &SnapshotArchiver{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// snapshotKey builds the object key for a finalized pool snapshot.
//
//	settlements/0xabc...def.json
func snapshotKey(poolID common.Hash) string {
	return fmt.Sprintf("settlements/%s.json", poolID.Hex())
}

// ArchivePool serializes the snapshot and uploads it in one PutObject call.
// Snapshots are small (one pool plus its bet book), so multipart upload is
// not needed.
func (a *SnapshotArchiver) ArchivePool(ctx context.Context, snap settlement.PoolSnapshot) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.Pool.ID, err)
	}

	key := snapshotKey(snap.Pool.ID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put snapshot %s: %w", key, err)
	}
	return nil
}

// ReadPool fetches and decodes a previously archived snapshot.
func (a *SnapshotArchiver) ReadPool(ctx context.Context, poolID common.Hash) (settlement.PoolSnapshot, error) {
	key := snapshotKey(poolID)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return settlement.PoolSnapshot{}, fmt.Errorf("s3blob: get snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return settlement.PoolSnapshot{}, fmt.Errorf("s3blob: read snapshot %s: %w", key, err)
	}

	var snap settlement.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return settlement.PoolSnapshot{}, fmt.Errorf("s3blob: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ settlement.Archiver = (*SnapshotArchiver)(nil)
