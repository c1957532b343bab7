package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobert/chaosgarden/internal/admin"
	"github.com/tobert/chaosgarden/internal/compiled"
	"github.com/tobert/chaosgarden/internal/config"
	"github.com/tobert/chaosgarden/internal/content"
	"github.com/tobert/chaosgarden/internal/graph"
	"github.com/tobert/chaosgarden/internal/ipc"
	"github.com/tobert/chaosgarden/internal/latent"
	"github.com/tobert/chaosgarden/internal/lifecycle"
	"github.com/tobert/chaosgarden/internal/metrics"
	"github.com/tobert/chaosgarden/internal/node"
	"github.com/tobert/chaosgarden/internal/participant"
	"github.com/tobert/chaosgarden/internal/playback"
	"github.com/tobert/chaosgarden/internal/prerender"
	"github.com/tobert/chaosgarden/internal/query"
	"github.com/tobert/chaosgarden/internal/region"
	"github.com/tobert/chaosgarden/internal/signal"
	"github.com/tobert/chaosgarden/internal/store"
	"github.com/tobert/chaosgarden/internal/tempo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting chaosgarden",
		"data_dir", cfg.DataDir,
		"control_addr", cfg.ControlAddr,
		"shell_addr", cfg.ShellAddr,
		"iopub_addr", cfg.IOPubAddr,
		"heartbeat_addr", cfg.HeartbeatAddr,
		"query_addr", cfg.QueryAddr,
		"admin_addr", cfg.AdminAddr,
	)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open durable store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	genRepo := store.NewGenerationRepository(db)
	savedGen, err := genRepo.Load(context.Background())
	if err != nil {
		slog.Error("failed to load generation counter", "error", err)
		os.Exit(1)
	}
	lifecycle.RestoreGeneration(savedGen)
	lifecycle.AdvanceGeneration()
	if err := genRepo.Store(context.Background(), lifecycle.CurrentGeneration()); err != nil {
		slog.Error("failed to persist advanced generation", "error", err)
		os.Exit(1)
	}
	slog.Info("generation advanced", "generation", lifecycle.CurrentGeneration())

	cas := content.NewFSStore(cfg.CASPath, cfg.CASReadOnly)

	tmap := tempo.NewMap(cfg.BaseTempoBPM)
	regions := region.NewStore()

	participants := participant.New(logger)
	participantRepo := store.NewParticipantRepository(db)
	restoreParticipants(context.Background(), participantRepo, participants)

	latentMgr := latent.New(regions, cfg.MaxRunningLatent, nil)
	iopub := newBroadcaster()

	g := graph.New()
	masterNode := g.AddNode(graph.Descriptor{
		TypeID:  node.TypeRegionBus,
		Outputs: []graph.Port{{Name: "out", Signal: signal.Audio}},
		Capabilities: graph.Capabilities{RealtimeSafe: true},
	})

	engine := playback.New(tmap, cfg.SampleRate, latentMgr)

	pool := prerender.NewPool(cfg.PrerenderPoolSize, 2, cfg.BlockFrames)
	scheduler := prerender.NewScheduler(pool, regions, cas, tmap, engine, cfg.PrerenderPoolSize, decodeRawPCM)

	factories := node.Registry(scheduler)
	cg, err := compiled.Compile(g, factories, cfg.BlockFrames, cfg.SampleRate, masterNode, "out")
	if err != nil {
		slog.Error("failed to compile initial graph", "error", err)
		os.Exit(1)
	}
	engine.InstallGraph(cg)

	latentMgr.SetPositionSource(engine.PositionBeat)
	latentMgr.SetEventHandler(func(ev latent.TransitionEvent) {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("failed to marshal latent transition event", "error", err)
			return
		}
		iopub.send(ipc.Encode(ipc.Envelope{
			MessageID:   uuid.New(),
			MessageType: "latent-event",
			Payload:     payload,
		}))
	})

	queryAdapter := query.New(regions, g, tmap, participants)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(pool, latentMgr, engine, participants, time.Now())
	registry.MustRegister(collector)

	health := &daemonHealth{engine: engine}
	adminMux := admin.New(registry, health)
	adminSrv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	go scheduler.Run(appCtx)
	startParticipantSweep(appCtx, participants)

	errCh := make(chan error, 8)

	go func() {
		slog.Info("admin http server listening", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	channels := []struct {
		name     string
		addr     string
		dispatch envelopeHandler
		onConn   connHook
	}{
		{"control", cfg.ControlAddr, nil, nil},
		{"shell", cfg.ShellAddr, nil, nil},
		{"iopub", cfg.IOPubAddr, nil, iopub.onConn},
		{"heartbeat", cfg.HeartbeatAddr, nil, nil},
		{"query", cfg.QueryAddr, queryDispatch(queryAdapter), nil},
	}

	listeners := make([]net.Listener, 0, len(channels))
	for _, c := range channels {
		ln, err := net.Listen("tcp", c.addr)
		if err != nil {
			slog.Error("failed to listen", "channel", c.name, "addr", c.addr, "error", err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		go serveChannel(appCtx, ln, c.name, c.dispatch, c.onConn, logger)
	}

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	appCancel()
	for i, ln := range listeners {
		if err := ln.Close(); err != nil {
			slog.Error("closing listener", "channel", channels[i].name, "error", err)
		}
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin http server shutdown error", "error", err)
	}

	persistParticipants(shutdownCtx, participantRepo, participants)
	if err := genRepo.Store(shutdownCtx, lifecycle.CurrentGeneration()); err != nil {
		slog.Error("failed to persist final generation", "error", err)
	}

	slog.Info("chaosgarden stopped")
}

// daemonHealth reports unhealthy while any node of the installed compiled
// graph has failed. It does not check whether a graph is installed: with
// none installed it reports healthy.
type daemonHealth struct {
	engine *playback.Engine
}

func (h *daemonHealth) Healthy() (bool, string) {
	if n := h.engine.FailedNodeCount(); n > 0 {
		return false, fmt.Sprintf("%d node(s) failed", n)
	}
	return true, ""
}

// decodeRawPCM is the pre-render scheduler's content materializer: the
// content store holds raw interleaved float32 little-endian PCM, copied
// directly into dst. Codec formats beyond raw PCM are out of scope.
func decodeRawPCM(_ content.Digest, data []byte, dst *signal.AudioBuffer) {
	dst.Zero()
	n := len(data) / 4
	if n > len(dst.Data) {
		n = len(dst.Data)
	}
	for i := 0; i < n; i++ {
		off := i * 4
		bits := binary.LittleEndian.Uint32(data[off : off+4])
		dst.Data[i] = math.Float32frombits(bits)
	}
}

func restoreParticipants(ctx context.Context, repo *store.ParticipantRepository, reg *participant.Registry) {
	rows, err := repo.ListAll(ctx)
	if err != nil {
		slog.Error("failed to restore participants", "error", err)
		return
	}
	for _, row := range rows {
		reg.Restore(participant.Participant{
			ID:           row.ID,
			Label:        row.Label,
			Capabilities: row.Capabilities,
			Identity: participant.IdentityHint{
				Serial:           row.Serial,
				USBVendorProduct: row.USBVendorProduct,
				MACAddress:       row.MACAddress,
				UserLabel:        row.UserLabel,
			},
		})
	}
	slog.Info("restored participants", "count", len(rows))
}

func persistParticipants(ctx context.Context, repo *store.ParticipantRepository, reg *participant.Registry) {
	for _, p := range reg.Snapshot() {
		row := store.ParticipantRow{
			ID:               p.ID,
			Label:            p.Label,
			Serial:           p.Identity.Serial,
			USBVendorProduct: p.Identity.USBVendorProduct,
			MACAddress:       p.Identity.MACAddress,
			UserLabel:        p.Identity.UserLabel,
			Capabilities:     p.Capabilities,
			Online:           p.Online,
			LastHeartbeat:    p.LastHeartbeat,
			CreatedAt:        p.Lifecycle.CreatedAt,
			CreatedGen:       p.Lifecycle.CreatedGen,
			TombstonedAt:     p.Lifecycle.TombstonedAt,
			TombstonedGen:    p.Lifecycle.TombstonedGen,
		}
		if err := repo.Upsert(ctx, row); err != nil {
			slog.Error("failed to persist participant", "id", p.ID, "error", err)
		}
	}
}

func startParticipantSweep(ctx context.Context, reg *participant.Registry) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.SweepExpired()
			}
		}
	}()
}

// envelopeHandler computes a reply payload for one received envelope. A
// nil return means no reply is sent (fire-and-forget channels).
type envelopeHandler func(ipc.Envelope) []byte

// connHook is invoked once per accepted connection on channels that need to
// track their live connection set (IOPub's broadcaster); it returns an
// unregister func called when the connection closes.
type connHook func(net.Conn) func()

// broadcaster fans a payload out to every connection registered on a
// channel. Used by the IOPub channel to push latent-region lifecycle
// events to every subscriber; per spec.md §4.9, IOPub is fire-and-forget,
// so a write failure to one subscriber never blocks or affects the others.
type broadcaster struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{conns: make(map[net.Conn]struct{})}
}

func (b *broadcaster) onConn(c net.Conn) func() {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
	}
}

func (b *broadcaster) send(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		_ = writeFrame(c, payload)
	}
}

// serveChannel accepts connections on ln and, for each, reads length-
// prefixed ipc envelopes off the wire, invoking dispatch (if non-nil) and
// writing back any reply it returns. Channels with no dispatch (Control,
// Shell, IOPub, Heartbeat) just log what they received; their command
// grammars are a transport-protocol concern above this loop.
func serveChannel(ctx context.Context, ln net.Listener, name string, dispatch envelopeHandler, onConn connHook, logger *slog.Logger) {
	log := logger.With("channel", name)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("accept error", "error", err)
				return
			}
		}
		go handleConn(ctx, conn, dispatch, onConn, log)
	}
}

// maxEnvelopeBytes bounds a single frame so a malformed length prefix
// cannot force an unbounded allocation.
const maxEnvelopeBytes = 1 << 20

func handleConn(ctx context.Context, conn net.Conn, dispatch envelopeHandler, onConn connHook, log *slog.Logger) {
	defer conn.Close()
	log = log.With("remote", conn.RemoteAddr())
	log.Info("connection accepted")

	if onConn != nil {
		unregister := onConn(conn)
		defer unregister()
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			if err != io.EOF {
				log.Info("connection closed", "error", err)
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxEnvelopeBytes {
			log.Error("frame too large, dropping connection", "bytes", n)
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			log.Info("connection closed mid-frame", "error", err)
			return
		}
		env, err := ipc.Decode(buf)
		if err != nil {
			log.Warn("malformed envelope", "error", err)
			continue
		}
		log.Info("envelope received", "message_type", env.MessageType, "session_id", env.SessionID)

		if dispatch == nil {
			continue
		}
		reply := dispatch(env)
		if reply == nil {
			continue
		}
		if err := writeFrame(conn, reply); err != nil {
			log.Warn("failed to write reply", "error", err)
			return
		}
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// queryDispatch decodes an incoming envelope's payload as a JSON-encoded
// query.Query, evaluates it against adapter, and replies with an envelope
// carrying the JSON-encoded query.Result (or an error message).
func queryDispatch(adapter *query.Adapter) envelopeHandler {
	return func(env ipc.Envelope) []byte {
		var q query.Query
		if err := json.Unmarshal(env.Payload, &q); err != nil {
			return ipc.Encode(ipc.Envelope{
				MessageID:     uuid.New(),
				CorrelationID: env.MessageID.String(),
				MessageType:   "query-error",
				Payload:       []byte(fmt.Sprintf("malformed query payload: %v", err)),
			})
		}

		result, err := adapter.Evaluate(q)
		if err != nil {
			return ipc.Encode(ipc.Envelope{
				MessageID:     uuid.New(),
				CorrelationID: env.MessageID.String(),
				MessageType:   "query-error",
				Payload:       []byte(err.Error()),
			})
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return ipc.Encode(ipc.Envelope{
				MessageID:     uuid.New(),
				CorrelationID: env.MessageID.String(),
				MessageType:   "query-error",
				Payload:       []byte(fmt.Sprintf("marshaling result: %v", err)),
			})
		}
		return ipc.Encode(ipc.Envelope{
			MessageID:     uuid.New(),
			CorrelationID: env.MessageID.String(),
			MessageType:   "query-result",
			Payload:       payload,
		})
	}
}
