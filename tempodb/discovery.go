// Package tempodb discovers trace blocks in an object store and prunes
// them by time before any parquet byte is read.
package tempodb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"

	"github.com/grafana/traceql-engine/pkg/boundedwaitgroup"
	"github.com/grafana/traceql-engine/tempodb/backend"
)

const (
	// metaFetchConcurrency bounds the parallel meta.json fetches during
	// discovery.
	metaFetchConcurrency = 20

	// DefaultCutoffHours drops blocks whose end time is older than this
	// many hours.
	DefaultCutoffHours = 24
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// blockMetaTimes reads only the time bounds out of a meta.json, keeping
// them as raw strings so one malformed timestamp does not discard the
// block.
type blockMetaTimes struct {
	BlockID   string `json:"blockID"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// DiscoveredBlock is one block found under the tenant prefix: the object
// key of its data.parquet, its size, and the time bounds from its
// meta.json. Copies are cheap and the value is immutable after discovery.
type DiscoveredBlock struct {
	Path      string
	Size      int64
	StartTime string
	EndTime   string
}

// Overlaps reports whether the block's time range can overlap
// [minNanos, maxNanos] (inclusive, zero values unbounded). Blocks with
// unparseable bounds always overlap: pruning must never lose data.
func (b DiscoveredBlock) Overlaps(minNanos, maxNanos int64) bool {
	start, err := time.Parse(time.RFC3339, b.StartTime)
	if err != nil {
		return true
	}
	end, err := time.Parse(time.RFC3339, b.EndTime)
	if err != nil {
		return true
	}

	if maxNanos > 0 && start.UnixNano() > maxNanos {
		return false
	}
	if minNanos > 0 && end.UnixNano() < minNanos {
		return false
	}
	return true
}

// Discovery lists blocks and filters them by age.
type Discovery struct {
	reader backend.Reader
	cutoff time.Duration
	logger log.Logger
}

func NewDiscovery(reader backend.Reader, cutoffHours int, logger log.Logger) *Discovery {
	if cutoffHours <= 0 {
		cutoffHours = DefaultCutoffHours
	}
	return &Discovery{
		reader: reader,
		cutoff: time.Duration(cutoffHours) * time.Hour,
		logger: logger,
	}
}

// DiscoverBlocks lists every object under prefix, pairs each data.parquet
// with its sibling meta.json or meta.compacted.json, fetches the metas
// with bounded concurrency, and drops blocks older than the cutoff.
// Blocks with a missing or unreadable meta are skipped with a warning;
// blocks whose end time does not parse are retained.
func (d *Discovery) DiscoverBlocks(ctx context.Context, prefix string) ([]DiscoveredBlock, error) {
	objects, err := d.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing blocks under %s: %w", prefix, err)
	}

	byName := make(map[string]backend.ObjectInfo, len(objects))
	var parquetFiles []backend.ObjectInfo
	for _, obj := range objects {
		byName[obj.Name] = obj
		if strings.HasSuffix(obj.Name, "/"+backend.DataFileName) {
			parquetFiles = append(parquetFiles, obj)
		}
	}

	level.Debug(d.logger).Log("msg", "listed objects", "prefix", prefix, "objects", len(objects), "parquetFiles", len(parquetFiles))

	wg := boundedwaitgroup.New(metaFetchConcurrency)
	resultsCh := make(chan DiscoveredBlock, len(parquetFiles))
	skippedCh := make(chan string, len(parquetFiles))

	for _, pf := range parquetFiles {
		wg.Add(1)
		go func(pf backend.ObjectInfo) {
			defer wg.Done()

			blockPrefix := strings.TrimSuffix(pf.Name, "/"+backend.DataFileName)

			metaName := ""
			for _, candidate := range []string{backend.MetaName, backend.CompactedMetaName} {
				if _, ok := byName[blockPrefix+"/"+candidate]; ok {
					metaName = blockPrefix + "/" + candidate
					break
				}
			}
			if metaName == "" {
				skippedCh <- fmt.Sprintf("no meta file for block %s", blockPrefix)
				return
			}

			metaBytes, err := d.reader.Read(ctx, metaName)
			if err != nil {
				skippedCh <- fmt.Sprintf("reading %s: %v", metaName, err)
				return
			}

			meta := blockMetaTimes{}
			if err := json.Unmarshal(metaBytes, &meta); err != nil {
				skippedCh <- fmt.Sprintf("parsing %s: %v", metaName, err)
				return
			}

			resultsCh <- DiscoveredBlock{
				Path:      pf.Name,
				Size:      pf.Size,
				StartTime: meta.StartTime,
				EndTime:   meta.EndTime,
			}
		}(pf)
	}

	wg.Wait()
	close(resultsCh)
	close(skippedCh)

	for msg := range skippedCh {
		level.Warn(d.logger).Log("msg", "skipping block", "reason", msg)
	}

	cutoffTime := time.Now().Add(-d.cutoff)
	var blocks []DiscoveredBlock
	filtered := 0
	for b := range resultsCh {
		endTime, err := time.Parse(time.RFC3339, b.EndTime)
		if err != nil {
			level.Warn(d.logger).Log("msg", "unparseable block end time, keeping block", "path", b.Path, "endTime", b.EndTime)
			blocks = append(blocks, b)
			continue
		}
		if endTime.Before(cutoffTime) {
			filtered++
			continue
		}
		blocks = append(blocks, b)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Path < blocks[j].Path })

	level.Info(d.logger).Log("msg", "discovered blocks", "total", len(blocks), "filteredByCutoff", filtered)
	return blocks, nil
}
