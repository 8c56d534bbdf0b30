package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/tastecall/internal/audio"
	"github.com/ent0n29/tastecall/internal/protocol"
)

type options struct {
	baseURL    string
	calls      int
	wavPath    string
	duration   time.Duration
	chunkMS    int
	realtime   float64
	tail       time.Duration
	recordPath string
	verbose    bool
}

type inboundFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark"`
}

type callReport struct {
	StreamSID   string
	FirstAudio  time.Duration
	MediaFrames int
	Marks       int
	Clears      int
	Audio       []byte
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var durationMS, tailMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:5050", "relay base URL")
	flag.IntVar(&cfg.calls, "calls", 1, "number of concurrent synthetic calls")
	flag.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file to stream as caller audio (default: silence)")
	flag.IntVar(&durationMS, "duration-ms", 8000, "caller audio length in milliseconds when no WAV is given")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 20, "media frame size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&tailMS, "tail-ms", 4000, "how long to keep listening after caller audio ends")
	flag.StringVar(&cfg.recordPath, "record", "", "write assistant audio of the first call to this WAV file")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.calls <= 0 {
		return options{}, fmt.Errorf("calls must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 1000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,1000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if durationMS < 0 {
		durationMS = 0
	}
	if tailMS < 0 {
		tailMS = 0
	}
	cfg.duration = time.Duration(durationMS) * time.Millisecond
	cfg.tail = time.Duration(tailMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	callerAudio, err := loadCallerAudio(cfg)
	if err != nil {
		return fmt.Errorf("prepare caller audio: %w", err)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	streamURL, err := fetchStreamURL(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("incoming-call: %w", err)
	}
	wsURL, err := dialableStreamURL(cfg.baseURL, streamURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("callsim: stream=%s calls=%d audio_ms=%d chunk_ms=%d realtime=%.2f\n",
			wsURL, cfg.calls, len(callerAudio)*1000/audio.TelephonySampleRate, cfg.chunkMS, cfg.realtime)
	}

	reports := make([]callReport, cfg.calls)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.calls; i++ {
		i := i
		g.Go(func() error {
			rep, err := simulateCall(gctx, cfg, wsURL, callerAudio)
			if err != nil {
				return fmt.Errorf("call %d: %w", i+1, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rep := range reports {
		first := "none"
		if rep.FirstAudio > 0 {
			first = rep.FirstAudio.Round(time.Millisecond).String()
		}
		fmt.Printf("callsim: %s first_audio=%s media=%d marks=%d clears=%d\n",
			rep.StreamSID, first, rep.MediaFrames, rep.Marks, rep.Clears)
	}
	if cfg.recordPath != "" && len(reports) > 0 {
		pcm := audio.DecodeMuLaw(reports[0].Audio)
		if err := audio.WriteWAVPCM16LEFile(cfg.recordPath, pcm, audio.TelephonySampleRate); err != nil {
			return fmt.Errorf("record assistant audio: %w", err)
		}
		if cfg.verbose {
			fmt.Printf("callsim: wrote %s\n", cfg.recordPath)
		}
	}
	return nil
}

func loadCallerAudio(cfg options) ([]byte, error) {
	if strings.TrimSpace(cfg.wavPath) == "" {
		return audio.Silence(int(cfg.duration / time.Millisecond)), nil
	}
	data, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return nil, err
	}
	pcm, sampleRate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, err
	}
	return audio.EncodeMuLaw(audio.Resample(pcm, sampleRate, audio.TelephonySampleRate)), nil
}

type twimlResponse struct {
	Connect struct {
		Stream struct {
			URL string `xml:"url,attr"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

func fetchStreamURL(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	form := url.Values{"CallSid": {"CAsim"}, "From": {"+15550100"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/incoming-call", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseStreamURL(body)
}

func parseStreamURL(body []byte) (string, error) {
	var tw twimlResponse
	if err := xml.Unmarshal(body, &tw); err != nil {
		return "", fmt.Errorf("decode TwiML: %w", err)
	}
	if strings.TrimSpace(tw.Connect.Stream.URL) == "" {
		return "", errors.New("TwiML has no stream url")
	}
	return tw.Connect.Stream.URL, nil
}

// dialableStreamURL keeps the advertised stream path but dials the host and
// scheme of base-url, since a local relay advertises wss:// for its public host.
func dialableStreamURL(baseURL, streamURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	stream, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(base.Scheme) {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", base.Scheme)
	}
	if strings.TrimSpace(base.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	base.Path = strings.TrimRight(base.Path, "/") + stream.Path
	return base.String(), nil
}

// mediaFrames splits mu-law audio into media-stream frames with timestamps.
func mediaFrames(streamSID string, ulaw []byte, chunkMS int) []map[string]any {
	size := chunkMS * audio.TelephonySampleRate / 1000
	frames := make([]map[string]any, 0, len(ulaw)/size+1)
	for off, chunk := 0, 1; off < len(ulaw); off, chunk = off+size, chunk+1 {
		end := off + size
		if end > len(ulaw) {
			end = len(ulaw)
		}
		frames = append(frames, map[string]any{
			"event":     string(protocol.EventMedia),
			"streamSid": streamSID,
			"media": map[string]any{
				"track":     "inbound",
				"chunk":     strconv.Itoa(chunk),
				"timestamp": strconv.Itoa(off * 1000 / audio.TelephonySampleRate),
				"payload":   base64.StdEncoding.EncodeToString(ulaw[off:end]),
			},
		})
	}
	return frames
}

func simulateCall(ctx context.Context, cfg options, wsURL string, callerAudio []byte) (callReport, error) {
	streamSID := "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	rep := callReport{StreamSID: streamSID}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return callReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var mu sync.Mutex
	started := time.Now()
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f inboundFrame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			mu.Lock()
			switch f.Event {
			case string(protocol.EventMedia):
				if rep.MediaFrames == 0 {
					rep.FirstAudio = time.Since(started)
				}
				rep.MediaFrames++
				if b, err := base64.StdEncoding.DecodeString(f.Media.Payload); err == nil {
					rep.Audio = append(rep.Audio, b...)
				}
			case string(protocol.EventMark):
				rep.Marks++
			case string(protocol.EventClear):
				rep.Clears++
			}
			mu.Unlock()
		}
	}()

	handshake := []map[string]any{
		{"event": string(protocol.EventConnected), "protocol": "Call", "version": "1.0.0"},
		{"event": string(protocol.EventStart), "streamSid": streamSID, "start": map[string]any{
			"streamSid":   streamSID,
			"accountSid":  "ACsim",
			"callSid":     "CA" + streamSID[2:],
			"tracks":      []string{"inbound"},
			"mediaFormat": map[string]any{"encoding": "audio/x-mulaw", "sampleRate": audio.TelephonySampleRate, "channels": 1},
		}},
	}
	for _, msg := range handshake {
		if err := conn.WriteJSON(msg); err != nil {
			return callReport{}, fmt.Errorf("send handshake: %w", err)
		}
	}
	if cfg.verbose {
		fmt.Printf("callsim: %s connected\n", streamSID)
	}

	pace := time.Duration(float64(time.Duration(cfg.chunkMS)*time.Millisecond) / cfg.realtime)
	for _, frame := range mediaFrames(streamSID, callerAudio, cfg.chunkMS) {
		if err := conn.WriteJSON(frame); err != nil {
			return callReport{}, fmt.Errorf("send media: %w", err)
		}
		select {
		case <-ctx.Done():
			return callReport{}, ctx.Err()
		case <-time.After(pace):
		}
	}

	select {
	case <-ctx.Done():
		return callReport{}, ctx.Err()
	case <-readDone:
	case <-time.After(cfg.tail):
	}
	_ = conn.WriteJSON(map[string]any{"event": string(protocol.EventStop), "streamSid": streamSID})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
	}
	mu.Lock()
	defer mu.Unlock()
	return rep, nil
}
