// Package dataset reads point sets and writes cluster assignments as CSV.
//
// Point files hold one point per row, every row with the same number of
// real-valued fields. Blank lines and lines starting with '#' are skipped.
// An assignment is written as a single row of cluster indices.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/matrixorigin/simdcsv"

	"github.com/vexsearch/kmeans/internal/kmeans"
)

// BatchRows is the number of parsed rows buffered ahead of the consumer.
// Cancellation is checked once per batch.
const BatchRows = 4096

var (
	ErrEmptyInput = errors.New("dataset: no rows")
	ErrRaggedRow  = errors.New("dataset: row length differs from the first row")
	ErrBadValue   = errors.New("dataset: malformed value")
)

// rows feeds parsed records to fn until the input is exhausted. Blank
// records are dropped.
func rows(ctx context.Context, r io.Reader, fn func(line int, fields []string) error) error {
	reader := simdcsv.NewReaderWithOptions(r, ',', '#', true, true)
	lines := make(chan simdcsv.LineOut, BatchRows)
	done := make(chan error, 1)
	go func() {
		done <- reader.ReadLoop(lines)
		close(lines)
	}()
	// The reader blocks on a full channel, so stop consuming only by draining.
	abort := func(err error) error {
		go func() {
			for range lines {
			}
		}()
		return err
	}

	line := 0
	for out := range lines {
		if line%BatchRows == 0 {
			if err := ctx.Err(); err != nil {
				return abort(err)
			}
		}
		// A nil record marks the end of input.
		if out.Line == nil {
			continue
		}
		line++
		if blank(out.Line) {
			continue
		}
		if err := fn(line, out.Line); err != nil {
			return abort(err)
		}
	}
	return <-done
}

func blank(fields []string) bool {
	return len(fields) == 0 || (len(fields) == 1 && strings.TrimSpace(fields[0]) == "")
}

// ReadPoints parses a point set. The first row fixes the dimension.
func ReadPoints(ctx context.Context, r io.Reader) (*kmeans.PointSet, error) {
	var (
		data []float64
		dim  int
	)
	err := rows(ctx, r, func(line int, fields []string) error {
		if dim == 0 {
			dim = len(fields)
		} else if len(fields) != dim {
			return fmt.Errorf("%w: row %d has %d fields, want %d", ErrRaggedRow, line, len(fields), dim)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return fmt.Errorf("%w: row %d: %q", ErrBadValue, line, field)
			}
			data = append(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, ErrEmptyInput
	}
	return kmeans.NewPointSet(data, dim)
}

// WriteAssignment writes assign as one comma-separated row.
func WriteAssignment(w io.Writer, assign []uint16) error {
	record := make([]string, len(assign))
	for i, cluster := range assign {
		record[i] = strconv.FormatUint(uint64(cluster), 10)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// ReadAssignment parses cluster indices written by WriteAssignment. Rows
// are concatenated.
func ReadAssignment(ctx context.Context, r io.Reader) ([]uint16, error) {
	var assign []uint16
	err := rows(ctx, r, func(line int, fields []string) error {
		for _, field := range fields {
			v, err := strconv.ParseUint(strings.TrimSpace(field), 10, 16)
			if err != nil {
				return fmt.Errorf("%w: row %d: %q", ErrBadValue, line, field)
			}
			assign = append(assign, uint16(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if assign == nil {
		return nil, ErrEmptyInput
	}
	return assign, nil
}
