// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
	"github.com/qgao233/virtual-avatar-agent/internal/service/stt"
)

// Config holds the streaming recognition parameters.
type Config struct {
	LanguageCode string
	SampleRateHz int
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	cb        stt.Callbacks
	connected bool
	closed    bool

	wg  sync.WaitGroup
	log zerolog.Logger
}

// New creates an unconnected Google STT adapter.
func New(cfg Config) *Adapter {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}
	return &Adapter{
		cfg: cfg,
		log: logging.WithComponent("stt-google"),
	}
}

// Connect opens a streaming recognition session, sends the initial config
// and starts the response listener.
func (a *Adapter) Connect(ctx context.Context, cb stt.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrNotConnected
	}
	if a.connected {
		return stt.ErrAlreadyConnected
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("open recognize stream: %w", err)
	}

	// Streaming config must be the first message on the stream.
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(a.cfg.SampleRateHz),
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		client.Close()
		return fmt.Errorf("send streaming config: %w", err)
	}

	a.client = client
	a.stream = stream
	a.cb = cb
	a.connected = true

	if cb.OnSessionCreated != nil {
		cb.OnSessionCreated("google-streaming")
	}

	a.wg.Add(1)
	go a.listen(stream)

	a.log.Info().
		Str("language", a.cfg.LanguageCode).
		Int("sampleRate", a.cfg.SampleRateHz).
		Msg("Streaming recognition started")
	return nil
}

// SendAudioChunk forwards one coalesced chunk to the recognition stream.
func (a *Adapter) SendAudioChunk(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected || a.closed {
		return stt.ErrNotConnected
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	})
}

// Close half-closes the stream, drains the listener and releases the client.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	stream := a.stream
	client := a.client
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
	}
	a.wg.Wait()
	if client != nil {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient) {
	defer a.wg.Done()

	speaking := false
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				a.mu.Lock()
				closed := a.closed
				a.mu.Unlock()
				if !closed && a.cb.OnError != nil {
					a.cb.OnError(fmt.Errorf("recognize recv: %w", err))
				}
			}
			return
		}

		if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			if speaking && a.cb.OnSpeechStop != nil {
				a.cb.OnSpeechStop()
			}
			speaking = false
			continue
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			if !speaking {
				speaking = true
				if a.cb.OnSpeechStart != nil {
					a.cb.OnSpeechStart()
				}
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				if a.cb.OnFinal != nil {
					a.cb.OnFinal(alt.Transcript, float64(alt.Confidence))
				}
			} else if a.cb.OnPartial != nil {
				a.cb.OnPartial(alt.Transcript)
			}
		}
	}
}
