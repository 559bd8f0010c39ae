package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// Encode writes jobs to w as zstd compressed JSON lines
func Encode(w io.Writer, jobs []*queue.Job) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	je := json.NewEncoder(enc)
	for _, job := range jobs {
		if err := je.Encode(job); err != nil {
			_ = enc.Close()
			return errors.Join(ErrEncode, err)
		}
	}
	if err := enc.Close(); err != nil {
		return errors.Join(ErrEncode, err)
	}
	return nil
}

// Decode reads an archive written by Encode
func Decode(r io.Reader) ([]*queue.Job, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	defer dec.Close()

	var jobs []*queue.Job
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var job queue.Job
		if err := json.Unmarshal(scanner.Bytes(), &job); err != nil {
			return nil, errors.Join(ErrDecode, err)
		}
		jobs = append(jobs, &job)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return jobs, nil
}
