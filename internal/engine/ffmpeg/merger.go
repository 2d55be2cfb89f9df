// Package ffmpeg concatenates narrated chunks with the ffmpeg binary.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const sampleRate = 24000

// encoders maps an audio format to the ffmpeg encoder arguments producing it.
var encoders = map[string][]string{
	"mp3":  {"-acodec", "libmp3lame", "-q:a", "2"},
	"wav":  {"-acodec", "pcm_s16le"},
	"flac": {"-acodec", "flac"},
	"aac":  {"-acodec", "aac", "-b:a", "128k"},
	"opus": {"-acodec", "libopus", "-b:a", "64k"},
}

type Merger struct {
	ffmpegPath string
	format     string
}

// New returns a merger that runs the given binary, or ffmpeg from PATH when
// path is empty, and encodes its output as format (mp3 when empty).
func New(path, format string) *Merger {
	if path == "" {
		path = "ffmpeg"
	}
	if format == "" {
		format = "mp3"
	}
	return &Merger{ffmpegPath: path, format: format}
}

// CheckInstalled verifies the binary can be executed.
func (m *Merger) CheckInstalled(ctx context.Context) error {
	if err := exec.CommandContext(ctx, m.ffmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", m.ffmpegPath, err)
	}
	return nil
}

// Merge joins parts encoded in the merger's format in order with gap of
// silence between them and returns the re-encoded result in that format.
func (m *Merger) Merge(ctx context.Context, parts [][]byte, gap time.Duration) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no parts to merge")
	}
	encoder, ok := encoders[m.format]
	if !ok {
		return nil, fmt.Errorf("merge: unsupported audio format %q", m.format)
	}

	dir, err := os.MkdirTemp("", "narrator-merge-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	silencePath := filepath.Join(dir, "silence."+m.format)
	if gap > 0 && len(parts) > 1 {
		if err := m.silence(ctx, gap, silencePath, encoder); err != nil {
			return nil, err
		}
	}

	var list strings.Builder
	for i, data := range parts {
		partPath := filepath.Join(dir, fmt.Sprintf("part%03d.%s", i, m.format))
		if err := os.WriteFile(partPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write part %d: %w", i, err)
		}
		if i > 0 && gap > 0 {
			fmt.Fprintf(&list, "file '%s'\n", silencePath)
		}
		fmt.Fprintf(&list, "file '%s'\n", partPath)
	}

	listPath := filepath.Join(dir, "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	outPath := filepath.Join(dir, "merged."+m.format)
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-ar", fmt.Sprint(sampleRate),
		"-ac", "1",
	}
	args = append(args, encoder...)
	args = append(args, "-y", outPath)
	if err := m.run(ctx, "concat", args...); err != nil {
		return nil, err
	}

	merged, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read merged audio: %w", err)
	}
	return merged, nil
}

func (m *Merger) silence(ctx context.Context, d time.Duration, outPath string, encoder []string) error {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono:d=%.3f", sampleRate, d.Seconds()),
	}
	args = append(args, encoder...)
	args = append(args, "-y", outPath)
	return m.run(ctx, "silence", args...)
}

func (m *Merger) run(ctx context.Context, op string, args ...string) error {
	output, err := exec.CommandContext(ctx, m.ffmpegPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s failed: %w\nOutput: %s", op, err, string(output))
	}
	return nil
}
