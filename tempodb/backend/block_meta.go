package backend

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const (
	// MetaName is the name of the block metadata object inside a block
	// directory.
	MetaName = "meta.json"

	// CompactedMetaName marks a block that has been compacted away but not
	// yet deleted.
	CompactedMetaName = "meta.compacted.json"

	// DataFileName is the columnar span data of a block.
	DataFileName = "data.parquet"
)

// BlockMeta is the JSON metadata stored next to every block's
// data.parquet. Only the fields the read path needs are declared; unknown
// fields written by other components round-trip through jsoniter
// untouched.
type BlockMeta struct {
	Version      string    `json:"format"`
	BlockID      uuid.UUID `json:"blockID"`
	TenantID     string    `json:"tenantID"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	TotalObjects int       `json:"totalObjects"`
	Size         uint64    `json:"size"`
}

func NewBlockMeta(tenantID string, blockID uuid.UUID) *BlockMeta {
	now := time.Now()
	return &BlockMeta{
		TenantID:  tenantID,
		BlockID:   blockID,
		StartTime: now,
		EndTime:   now,
	}
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseBlockMeta decodes a meta.json payload.
func ParseBlockMeta(b []byte) (*BlockMeta, error) {
	meta := &BlockMeta{}
	if err := json.Unmarshal(b, meta); err != nil {
		return nil, fmt.Errorf("parsing block meta: %w", err)
	}
	return meta, nil
}

// MetaFileName returns the object key of a block's meta.json.
func MetaFileName(tenantID string, blockID uuid.UUID) string {
	return path.Join(tenantID, blockID.String(), MetaName)
}

// CompactedMetaFileName returns the object key of a block's
// meta.compacted.json.
func CompactedMetaFileName(tenantID string, blockID uuid.UUID) string {
	return path.Join(tenantID, blockID.String(), CompactedMetaName)
}

// DataFileNameForBlock returns the object key of a block's data.parquet.
func DataFileNameForBlock(tenantID string, blockID uuid.UUID) string {
	return path.Join(tenantID, blockID.String(), DataFileName)
}
