package indexstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

const (
	manifestFile  = "manifest.yaml"
	dataFile      = "exemplars.parquet"
	formatVersion = 1
)

type exemplarRow struct {
	Position  int64     `parquet:"position"`
	Question  string    `parquet:"question"`
	SQLQuery  string    `parquet:"sql_query"`
	SQLResult string    `parquet:"sql_result"`
	Answer    string    `parquet:"answer"`
	Embedding []float32 `parquet:"embedding"`
}

type manifest struct {
	Version        int       `yaml:"version"`
	EmbeddingModel string    `yaml:"embeddingModel"`
	Dimensions     int       `yaml:"dimensions"`
	Entries        int       `yaml:"entries"`
	BuiltAt        time.Time `yaml:"builtAt"`
	DataFile       string    `yaml:"dataFile"`
}

func encodeSnapshot(snapshot fewshot.Snapshot) (manifestBytes, data []byte, err error) {
	if len(snapshot.Entries) == 0 {
		return nil, nil, errors.New("snapshot has no entries")
	}
	rows := make([]exemplarRow, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		rows = append(rows, exemplarRow{
			Position:  int64(entry.Position),
			Question:  entry.Exemplar.Question,
			SQLQuery:  entry.Exemplar.SQLQuery,
			SQLResult: entry.Exemplar.SQLResult,
			Answer:    entry.Exemplar.Answer,
			Embedding: entry.Embedding,
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[exemplarRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, fmt.Errorf("close parquet writer: %w", err)
	}

	manifestBytes, err = yaml.Marshal(manifest{
		Version:        formatVersion,
		EmbeddingModel: snapshot.EmbeddingModel,
		Dimensions:     snapshot.Dimensions,
		Entries:        len(rows),
		BuiltAt:        snapshot.BuiltAt.UTC(),
		DataFile:       dataFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode manifest: %w", err)
	}
	return manifestBytes, buf.Bytes(), nil
}

func decodeManifest(raw []byte) (manifest, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != formatVersion {
		return manifest{}, fmt.Errorf("unsupported index format version %d", m.Version)
	}
	return m, nil
}

func decodeSnapshot(m manifest, data []byte) (fewshot.Snapshot, error) {
	reader := parquet.NewGenericReader[exemplarRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]exemplarRow, reader.NumRows())
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return fewshot.Snapshot{}, fmt.Errorf("read parquet rows: %w", err)
	}
	if count != m.Entries {
		return fewshot.Snapshot{}, fmt.Errorf("index has %d rows, manifest declares %d", count, m.Entries)
	}

	entries := make([]fewshot.Entry, count)
	for i, row := range rows[:count] {
		entries[i] = fewshot.Entry{
			Position: int(row.Position),
			Exemplar: fewshot.Exemplar{
				Question:  row.Question,
				SQLQuery:  row.SQLQuery,
				SQLResult: row.SQLResult,
				Answer:    row.Answer,
			},
			Embedding: row.Embedding,
		}
	}
	return fewshot.Snapshot{
		EmbeddingModel: m.EmbeddingModel,
		Dimensions:     m.Dimensions,
		BuiltAt:        m.BuiltAt,
		Entries:        entries,
	}, nil
}
