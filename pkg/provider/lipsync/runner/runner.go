// Package runner provides a lipsync.Engine backed by a model-runner
// subprocess. The runner hosts the neural models (audio feature extractor,
// UNet, VAE) inside their own Python environment and speaks newline-delimited
// JSON over stdin/stdout, one response per request, matched by request ID.
//
// Tensors cross the boundary as base64-encoded little-endian float32 arrays
// with explicit shape fields; face crops come back as base64 raw BGR bytes.
package runner

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"time"

	"github.com/mentorverse/liplink/pkg/provider/lipsync"
	"github.com/mentorverse/liplink/pkg/types"
)

// Compile-time assertion that Engine implements lipsync.Engine.
var _ lipsync.Engine = (*Engine)(nil)

// maxResponseLine bounds a single runner response. A 1080p BGR face crop is
// about 6 MB raw, 8 MB in base64; a full batch of them fits in 256 MB.
const maxResponseLine = 256 << 20

// Config holds the launch parameters for the runner subprocess.
type Config struct {
	// MuseTalkBase is the model checkout the runner executes from (its
	// working directory).
	MuseTalkBase string

	// CondaEnv, when non-empty, wraps the launch in "conda run -n <env>".
	CondaEnv string

	// Python is the interpreter. Empty means "python3".
	Python string

	// Script is the runner entry point relative to MuseTalkBase. Empty
	// means "model_runner.py".
	Script string
}

// Engine is a running model-runner subprocess.
type Engine struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	enc     *json.Encoder

	pendingMu sync.Mutex
	pending   map[int64]chan response
	nextID    int64

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	// dead is closed when readLoop sees stdout close, which means the
	// subprocess exited. Pending round trips fail immediately instead of
	// hanging on their context deadlines.
	dead chan struct{}
}

type request struct {
	ID int64  `json:"id"`
	Op string `json:"op"`

	Dir string `json:"dir,omitempty"`

	PCM string `json:"pcm,omitempty"` // base64 float32 LE

	Positions []int  `json:"positions,omitempty"`
	Chunks    string `json:"chunks,omitempty"` // base64 float32 LE, flattened
	ChunkRows int    `json:"chunk_rows,omitempty"`
	ChunkDim  int    `json:"chunk_dim,omitempty"`
}

type response struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	CycleLength int      `json:"cycle_length,omitempty"`
	Boxes       [][4]int `json:"boxes,omitempty"`

	Feats    string `json:"feats,omitempty"` // base64 float32 LE
	FeatRows int    `json:"feat_rows,omitempty"`
	FeatDim  int    `json:"feat_dim,omitempty"`

	Faces []faceJSON `json:"faces,omitempty"`
}

type faceJSON struct {
	Position int    `json:"position"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Pix      string `json:"pix"` // base64 raw BGR
}

// Start launches the runner subprocess and waits for its ready line.
func Start(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.MuseTalkBase == "" {
		return nil, errors.New("runner: MuseTalkBase must not be empty")
	}
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = "model_runner.py"
	}

	var cmd *exec.Cmd
	if cfg.CondaEnv != "" {
		cmd = exec.Command("conda", "run", "--no-capture-output", "-n", cfg.CondaEnv, python, script)
	} else {
		cmd = exec.Command(python, script)
	}
	cmd.Dir = cfg.MuseTalkBase

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start %q: %w", script, err)
	}

	e := &Engine{
		cmd:     cmd,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
		dead:    make(chan struct{}),
	}

	go e.readLoop(stdout)
	go logStderr(stderr)

	// The runner prints a ready response (id 0) once models are on the GPU.
	if _, err := e.await(ctx, 0); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("runner: waiting for ready: %w", err)
	}

	slog.Info("model runner started", "base", cfg.MuseTalkBase, "conda_env", cfg.CondaEnv)
	return e, nil
}

// LoadAvatar implements lipsync.Engine.
func (e *Engine) LoadAvatar(ctx context.Context, avatarDir string) (*lipsync.AvatarInfo, error) {
	resp, err := e.roundTrip(ctx, request{Op: "load_avatar", Dir: avatarDir})
	if err != nil {
		return nil, fmt.Errorf("runner: load avatar: %w", err)
	}

	info := &lipsync.AvatarInfo{
		CycleLength: resp.CycleLength,
		Boxes:       make([]types.Rect, len(resp.Boxes)),
	}
	for i, b := range resp.Boxes {
		info.Boxes[i] = types.Rect{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}
	if info.CycleLength == 0 || len(info.Boxes) != info.CycleLength {
		return nil, fmt.Errorf("runner: avatar %q reported %d boxes for cycle length %d",
			avatarDir, len(info.Boxes), info.CycleLength)
	}
	return info, nil
}

// Audio2Feat implements lipsync.Engine.
func (e *Engine) Audio2Feat(ctx context.Context, pcm []float32) ([][]float32, error) {
	resp, err := e.roundTrip(ctx, request{Op: "audio2feat", PCM: encodeFloat32s(pcm)})
	if err != nil {
		return nil, fmt.Errorf("runner: audio2feat: %w", err)
	}

	flat, err := decodeFloat32s(resp.Feats)
	if err != nil {
		return nil, fmt.Errorf("runner: audio2feat payload: %w", err)
	}
	if resp.FeatDim <= 0 || len(flat) != resp.FeatRows*resp.FeatDim {
		return nil, fmt.Errorf("runner: audio2feat shape mismatch: %d values for %dx%d",
			len(flat), resp.FeatRows, resp.FeatDim)
	}

	rows := make([][]float32, resp.FeatRows)
	for i := range rows {
		rows[i] = flat[i*resp.FeatDim : (i+1)*resp.FeatDim]
	}
	return rows, nil
}

// GenerateFaces implements lipsync.Engine.
func (e *Engine) GenerateFaces(ctx context.Context, positions []int, chunks [][][]float32) ([]lipsync.Face, error) {
	if len(positions) != len(chunks) {
		return nil, fmt.Errorf("runner: %d positions but %d chunks", len(positions), len(chunks))
	}
	if len(positions) == 0 {
		return nil, nil
	}

	rows := len(chunks[0])
	dim := 0
	if rows > 0 {
		dim = len(chunks[0][0])
	}
	flat := make([]float32, 0, len(chunks)*rows*dim)
	for _, chunk := range chunks {
		if len(chunk) != rows {
			return nil, fmt.Errorf("runner: ragged chunk: %d rows, want %d", len(chunk), rows)
		}
		for _, row := range chunk {
			flat = append(flat, row...)
		}
	}

	resp, err := e.roundTrip(ctx, request{
		Op:        "generate",
		Positions: positions,
		Chunks:    encodeFloat32s(flat),
		ChunkRows: rows,
		ChunkDim:  dim,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: generate: %w", err)
	}

	faces := make([]lipsync.Face, len(resp.Faces))
	for i, f := range resp.Faces {
		pix, err := base64.StdEncoding.DecodeString(f.Pix)
		if err != nil {
			return nil, fmt.Errorf("runner: face %d pixels: %w", i, err)
		}
		if len(pix) != f.Width*f.Height*3 {
			return nil, fmt.Errorf("runner: face %d: %d bytes for %dx%d", i, len(pix), f.Width, f.Height)
		}
		faces[i] = lipsync.Face{
			Position: f.Position,
			Image:    types.Image{Width: f.Width, Height: f.Height, Pix: pix},
		}
	}
	return faces, nil
}

// Close shuts down the subprocess: stdin is closed to signal exit, and the
// child is killed if it has not terminated within 5 seconds. The child is
// always reaped.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.stdin.Close()

		waited := make(chan error, 1)
		go func() { waited <- e.cmd.Wait() }()

		select {
		case err := <-waited:
			e.closeErr = err
		case <-time.After(5 * time.Second):
			_ = e.cmd.Process.Kill()
			e.closeErr = <-waited
		}
		close(e.done)
	})
	if e.closeErr != nil && !errors.Is(e.closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("runner: close: %w", e.closeErr)
	}
	return nil
}

// roundTrip sends one request and waits for its matching response.
func (e *Engine) roundTrip(ctx context.Context, req request) (*response, error) {
	e.pendingMu.Lock()
	e.nextID++
	req.ID = e.nextID
	ch := make(chan response, 1)
	e.pending[req.ID] = ch
	e.pendingMu.Unlock()

	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, req.ID)
		e.pendingMu.Unlock()
	}()

	e.writeMu.Lock()
	err := e.enc.Encode(req)
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("runner error: %s", resp.Error)
		}
		return &resp, nil
	case <-e.dead:
		// A response may have landed just before stdout closed.
		select {
		case resp := <-ch:
			if !resp.OK {
				return nil, fmt.Errorf("runner error: %s", resp.Error)
			}
			return &resp, nil
		default:
			return nil, errors.New("runner exited")
		}
	case <-e.done:
		return nil, errors.New("runner exited")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// await waits for an unsolicited response with the given ID (the ready line).
func (e *Engine) await(ctx context.Context, id int64) (*response, error) {
	ch := make(chan response, 1)
	e.pendingMu.Lock()
	e.pending[id] = ch
	e.pendingMu.Unlock()

	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}()

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, errors.New(resp.Error)
		}
		return &resp, nil
	case <-e.dead:
		return nil, errors.New("runner exited")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop delivers responses to their waiting requests until stdout closes.
func (e *Engine) readLoop(stdout io.Reader) {
	defer close(e.dead)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1<<20), maxResponseLine)

	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			slog.Warn("model runner: unparseable response line", "err", err)
			continue
		}
		e.pendingMu.Lock()
		ch, ok := e.pending[resp.ID]
		e.pendingMu.Unlock()
		if !ok {
			slog.Warn("model runner: response for unknown request", "id", resp.ID)
			continue
		}
		ch <- resp
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("model runner: stdout read error", "err", err)
	}
}

// logStderr forwards the runner's stderr lines to the gateway log.
func logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("model runner", "line", scanner.Text())
	}
}

func encodeFloat32s(vals []float32) string {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloat32s(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(buf))
	}
	vals := make([]float32, len(buf)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vals, nil
}
