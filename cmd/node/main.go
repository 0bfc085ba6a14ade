// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/certen/inference-host/internal/config"
	"github.com/certen/inference-host/internal/errs"
	"github.com/certen/inference-host/pkg/checkpoint"
	"github.com/certen/inference-host/pkg/ethereum"
	"github.com/certen/inference-host/pkg/firestore"
	"github.com/certen/inference-host/pkg/handshake"
	"github.com/certen/inference-host/pkg/keycache"
	"github.com/certen/inference-host/pkg/payment"
	"github.com/certen/inference-host/pkg/proofcache"
	"github.com/certen/inference-host/pkg/rag"
	"github.com/certen/inference-host/pkg/registry"
	"github.com/certen/inference-host/pkg/resultstore"
	"github.com/certen/inference-host/pkg/sessionkeys"
	"github.com/certen/inference-host/pkg/settlement"
	"github.com/certen/inference-host/pkg/signer"
	"github.com/certen/inference-host/pkg/transport"
	"github.com/certen/inference-host/pkg/witness"
)

// node wires every package into a single running host. It's the runtime
// counterpart of SessionStores/Publisher/Flow: one instance per process,
// one connection per session.
type node struct {
	cfg        *config.Config
	signer     *signer.Signer
	sessionKeys *sessionkeys.Store
	health     *transport.HealthMonitor
	pools      *transport.PoolSet
	rateLimit  *transport.RateLimiter
	handshake  *handshake.Handshake
	registry   *registry.Monitor
	facade     *registry.Facade
	selector   *registry.Selector
	claimer    *registry.Claimer
	engine     *witness.Engine
	provingKey *witness.KeyMaterial
	resultStore *resultstore.Store
	proofCache *proofcache.Cache
	validator  *settlement.Validator
	payments   *payment.Flow
	checkpoints *checkpoint.Publisher
	ragStores  *rag.SessionStores

	upgrader websocket.Upgrader
	logger   *log.Logger
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting inference host node")

	var (
		topologyPath = flag.String("topology", os.Getenv("TOPOLOGY_FILE"), "path to chain topology YAML overlay")
		listenAddr   = flag.String("listen", envOr("LISTEN_ADDR", ":8090"), "HTTP/WS listen address")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := config.LoadTopologyFile(cfg, *topologyPath); err != nil {
		log.Fatalf("load topology file: %v", err)
	}

	n, err := buildNode(cfg)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.startBackground(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", n.handleWebsocket)
	mux.HandleFunc("/health", n.handleHealth)

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Printf("listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Printf("stopped")
}

// buildNode constructs every component from cfg. Components that depend on
// live network/storage connections (chain RPC, Firestore) are dialed here;
// a dial failure for a non-essential backend degrades rather than aborts,
// matching the teacher's health-status pattern.
func buildNode(cfg *config.Config) (*node, error) {
	s, err := signer.NewFromHex(cfg.HostPrivateKey)
	if err != nil {
		return nil, err
	}
	log.Printf("host address: %s", s.AddressHex())

	sessionKeys := sessionkeys.New(time.Duration(cfg.SessionKeyTTLSeconds) * time.Second)

	storage, err := buildStorageBackend(cfg)
	if err != nil {
		return nil, err
	}

	var primaryChain uint64
	poolConfigs := make([]transport.PoolConfig, 0, len(cfg.Chains))
	chainIDs := make([]uint64, 0, len(cfg.Chains))
	ethClients := make(map[uint64]*ethereum.Client, len(cfg.Chains))
	var registrySource registry.EventSource
	var registryChain uint64
	var primaryEthClient *ethereum.Client

	for chainID, chainCfg := range cfg.Chains {
		chainIDs = append(chainIDs, chainID)
		poolConfigs = append(poolConfigs, transport.PoolConfig{
			ChainID:             chainID,
			MaxConnections:      chainCfg.MaxConnections,
			RateLimitPerMinute:  chainCfg.RateLimitPerMinute,
			BurstSize:           chainCfg.BurstSize,
			HealthCheckInterval: time.Duration(chainCfg.HealthCheckSeconds) * time.Second,
			ConnectTimeout:      time.Duration(chainCfg.ConnectTimeoutSecs) * time.Second,
		})

		if chainCfg.RPCURL == "" {
			continue
		}
		client, err := ethereum.NewClient(chainCfg.RPCURL, int64(chainID))
		if err != nil {
			log.Printf("chain %d: dial failed, running without RPC: %v", chainID, err)
			continue
		}
		ethClients[chainID] = client
		if primaryChain == 0 || chainID < primaryChain {
			primaryChain = chainID
			primaryEthClient = client
		}
		if chainCfg.RegistryAddress != "" && (registrySource == nil || chainID < registryChain) {
			registryChain = chainID
			registrySource = ethereum.NewRegistryWatcher(client, ethcommon.HexToAddress(chainCfg.RegistryAddress), 0, 15*time.Second)
		}
	}
	if primaryChain == 0 {
		for id := range cfg.Chains {
			if primaryChain == 0 || id < primaryChain {
				primaryChain = id
			}
		}
	}

	chainSet := ethereum.NewChainSet(ethClients)
	pools := transport.NewPoolSet(poolConfigs)
	healthMonitor := transport.NewHealthMonitor(chainIDs, chainSet, pools)
	rateLimiter := transport.NewRateLimiter(poolConfigs)

	if registrySource == nil {
		registrySource = noopEventSource{}
		log.Printf("no chain has a registry_address configured; job-claim registry runs empty")
	}
	monitor := registry.NewMonitor(registrySource)
	facade := registry.NewFacade(monitor)
	selector := registry.NewSelector()
	claimer := registry.NewClaimer()

	engine, provingKey, verifyingKey, err := buildWitnessEngine(cfg)
	if err != nil {
		return nil, err
	}

	resultStore := resultstore.New(nil)
	proofCache := proofcache.New(cfg.ProofCacheCapacity, time.Duration(cfg.ProofCacheTTLSeconds)*time.Second)
	validator := settlement.New(resultStore, engine, verifyingKey, modelHashResolver)

	checkpointPublisher := checkpoint.New(s, sessionKeys, storage)

	var submitter payment.Submitter = noopSubmitter{}
	if primaryEthClient != nil && cfg.Chains[primaryChain].RegistryAddress != "" {
		submitter = ethereum.NewClaimSubmitter(primaryEthClient, ethcommon.HexToAddress(cfg.Chains[primaryChain].RegistryAddress), settlementABI, cfg.HostPrivateKey, 300000)
	}
	paymentFlow := payment.New(resultStore, validator, s, claimer, submitter, checkpointPublisher)

	hs := handshake.New(s.PrivateKey(), sessionKeys, primaryChain)

	return &node{
		cfg:         cfg,
		signer:      s,
		sessionKeys: sessionKeys,
		health:      healthMonitor,
		pools:       pools,
		rateLimit:   rateLimiter,
		handshake:   hs,
		registry:    monitor,
		facade:      facade,
		selector:    selector,
		claimer:     claimer,
		engine:      engine,
		provingKey:  provingKey,
		resultStore: resultStore,
		proofCache:  proofCache,
		validator:   validator,
		payments:    paymentFlow,
		checkpoints: checkpointPublisher,
		ragStores:   rag.NewSessionStores(),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:      log.New(os.Stdout, "[Node] ", log.LstdFlags),
	}, nil
}

// startBackground launches the registry event consumer, health poller, and,
// when a session key TTL is configured, a once-a-minute expired-key sweep.
func (n *node) startBackground(ctx context.Context) {
	go func() {
		if err := n.registry.Run(ctx); err != nil && ctx.Err() == nil {
			n.logger.Printf("registry monitor stopped: %v", err)
		}
	}()
	go n.health.RunLoop(ctx, 15*time.Second)
	if n.cfg.SessionKeyTTLSeconds > 0 {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n.sessionKeys.ClearExpired()
				}
			}
		}()
	}
}

func (n *node) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := map[string]any{
		"ready":         n.health.IsReady(),
		"sessions":      n.sessionKeys.Count(),
		"registered":    len(n.facade.GetRegisteredHosts()),
		"proof_cache":   n.proofCache.GetStats(),
	}
	if !n.health.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// handleWebsocket upgrades the connection, runs the handshake on the first
// message, and then pumps the session's read/write loops through the
// dispatcher for the remainder of the connection's life.
func (n *node) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Printf("upgrade failed: %v", err)
		return
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		n.logger.Printf("read session_init: %v", err)
		_ = conn.Close()
		return
	}

	var initMsg handshake.InitMessage
	if err := json.Unmarshal(raw, &initMsg); err != nil {
		n.logger.Printf("malformed session_init: %v", err)
		_ = conn.Close()
		return
	}

	meta, err := n.handshake.Process(initMsg)
	if err != nil {
		n.logger.Printf("handshake failed for session %s: %v", initMsg.SessionID, err)
		_ = conn.WriteJSON(map[string]string{"type": "session_init_error", "error": err.Error()})
		_ = conn.Close()
		return
	}

	if err := n.checkpoints.InitSession(r.Context(), meta.SessionID); err != nil {
		n.logger.Printf("checkpoint resume failed for session %s: %v", meta.SessionID, err)
	}
	_ = conn.WriteJSON(handshake.Ack(meta.SessionID, meta.ChainID))

	session := transport.NewSession(meta.SessionID, meta.ChainID, conn, 64)
	dispatcher := n.dispatcherFor(meta)

	go session.WriteLoop(func(f transport.OutboundFrame) ([]byte, error) {
		return json.Marshal(f.Payload)
	})
	session.ReadLoop(func(frame transport.Frame) {
		encrypt := func(plaintext []byte) (transport.EncryptedPayload, error) {
			return n.encryptForSession(meta.SessionID, plaintext)
		}

		if err := n.rateLimit.Check(meta.ChainID, meta.SessionID); err != nil {
			n.logger.Printf("rate limited session=%s: %v", meta.SessionID, err)
			envelope, buildErr := transport.BuildErrorEnvelope(meta.SessionID, frame.MessageID, err, encrypt)
			if buildErr == nil {
				session.Enqueue(transport.OutboundFrame{Payload: envelope})
			}
			return
		}

		result, err := dispatcher.Dispatch(frame)
		if err != nil {
			n.logger.Printf("dispatch error session=%s: %v", meta.SessionID, err)
			envelope, buildErr := transport.BuildErrorEnvelope(meta.SessionID, frame.MessageID, err, encrypt)
			if buildErr != nil {
				n.logger.Printf("build error envelope session=%s: %v", meta.SessionID, buildErr)
				return
			}
			session.Enqueue(transport.OutboundFrame{Payload: envelope, Final: false})
			return
		}

		body, err := json.Marshal(result)
		if err != nil {
			n.logger.Printf("marshal result session=%s: %v", meta.SessionID, err)
			return
		}
		payload, err := encrypt(body)
		if err != nil {
			n.logger.Printf("encrypt result session=%s: %v", meta.SessionID, err)
			return
		}
		session.Enqueue(transport.OutboundFrame{
			Payload: transport.ResponseEnvelope{
				Type:      "encrypted_response",
				SessionID: meta.SessionID,
				MessageID: frame.MessageID,
				Payload:   payload,
			},
		})
	})

	n.sessionKeys.ClearKey(meta.SessionID)
	n.ragStores.Disable(meta.SessionID)
}

// encryptForSession seals plaintext under the session's installed AEAD key.
func (n *node) encryptForSession(sessionID string, plaintext []byte) (transport.EncryptedPayload, error) {
	key, ok := n.sessionKeys.GetKey(sessionID)
	if !ok {
		return transport.EncryptedPayload{}, errNoSessionKey
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return transport.EncryptedPayload{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return transport.EncryptedPayload{}, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return transport.EncryptedPayload{
		CiphertextHex: hexEncode(ciphertext),
		NonceHex:      hexEncode(nonce),
		AADHex:        "",
	}, nil
}

// dispatcherFor builds the per-session action router. Generation itself
// (the model forward pass) is out of scope here; rag_search, rag_upload,
// and checkpoint actions are wired to their backing stores directly.
func (n *node) dispatcherFor(meta *handshake.Metadata) *transport.Dispatcher {
	d := transport.NewDispatcher(nil, func(frame transport.Frame) (any, error) {
		return nil, &errs.ValidationFailed{Field: "action", Reason: "no handler registered for this action"}
	})

	d.RegisterAction("rag_upload", func(frame transport.Frame) (any, error) {
		var req struct {
			Vectors []rag.Vector `json:"vectors"`
			Replace bool         `json:"replace"`
		}
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return nil, err
		}
		store, ok := n.ragStores.Get(meta.SessionID)
		if !ok {
			store = n.ragStores.Enable(meta.SessionID, n.cfg.RAGDefaultDimension)
		}
		errs := store.Upload(req.Vectors, req.Replace)
		return map[string]any{"errors": errs}, nil
	})

	d.RegisterAction("rag_search", func(frame transport.Frame) (any, error) {
		var req struct {
			Query     []float32          `json:"query"`
			K         int                `json:"k"`
			Threshold *float64           `json:"threshold"`
			Filter    *rag.MetadataFilter `json:"filter"`
		}
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return nil, err
		}
		store, ok := n.ragStores.Get(meta.SessionID)
		if !ok {
			return []rag.SearchResult{}, nil
		}
		return store.Search(req.Query, req.K, req.Threshold, req.Filter)
	})

	d.RegisterAction("checkpoint_message", func(frame transport.Frame) (any, error) {
		var msg checkpoint.Message
		if err := json.Unmarshal(frame.Raw, &msg); err != nil {
			return nil, err
		}
		n.checkpoints.Buffer(meta.SessionID, msg)
		return map[string]string{"status": "buffered"}, nil
	})

	d.RegisterAction("inference_complete", func(frame transport.Frame) (any, error) {
		var req inferenceCompleteRequest
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return nil, err
		}

		w := witness.Witness{
			JobIDHash:  sha256.Sum256([]byte(req.JobID)),
			ModelHash:  modelHashResolver(req.ModelID),
			InputHash:  sha256.Sum256([]byte(req.Prompt)),
			OutputHash: sha256.Sum256([]byte(req.Response)),
		}

		var proof witness.ProofData
		if cached, ok := n.proofCache.Get(w); ok {
			proof = cached.Proof
		} else {
			generated, err := n.engine.GenerateProof(w, n.provingKey)
			if err != nil {
				return nil, err
			}
			proof = *generated
			n.proofCache.Insert(w, proof)
		}

		result := resultstore.InferenceResult{
			JobID:           req.JobID,
			ModelID:         req.ModelID,
			Prompt:          req.Prompt,
			Response:        req.Response,
			TokensGenerated: req.TokensGenerated,
			InferenceTimeMs: req.InferenceTimeMs,
			Timestamp:       uint64(time.Now().Unix()),
			NodeID:          n.signer.AddressHex(),
		}
		if err := n.resultStore.PutResult(req.JobID, result); err != nil {
			return nil, err
		}
		if err := n.resultStore.PutProof(req.JobID, proof); err != nil {
			return nil, err
		}

		proofHash := sha256.Sum256(proof.ProofBytes)
		if _, err := n.checkpoints.Publish(context.Background(), meta.SessionID, hexEncode(proofHash[:]), req.TokenRangeStart, req.TokenRangeEnd); err != nil {
			return nil, err
		}

		return n.payments.SettleAndClaim(context.Background(), req.JobID, meta.SessionID, req.TokensGenerated)
	})

	return d
}

// inferenceCompleteRequest reports one finished inference turn: the engine
// output to prove and the token range it occupies in the session's
// checkpoint stream.
type inferenceCompleteRequest struct {
	JobID           string `json:"job_id"`
	ModelID         string `json:"model_id"`
	Prompt          string `json:"prompt"`
	Response        string `json:"response"`
	TokensGenerated uint64 `json:"tokens_generated"`
	InferenceTimeMs uint64 `json:"inference_time_ms"`
	TokenRangeStart uint64 `json:"token_range_start"`
	TokenRangeEnd   uint64 `json:"token_range_end"`
}

// buildStorageBackend selects the checkpoint/RAG object store implementation
// per cfg.StorageBackend.
func buildStorageBackend(cfg *config.Config) (checkpoint.StorageBackend, error) {
	switch cfg.StorageBackend {
	case "firestore":
		fsCfg := firestore.DefaultConfig()
		fsCfg.ProjectID = cfg.FirestoreProjectID
		fsCfg.CredentialsFile = cfg.FirestoreCredentialsFile
		fsCfg.Enabled = true
		client, err := firestore.NewClient(context.Background(), fsCfg)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewFirestoreBackend(client, "checkpoints"), nil
	default:
		return checkpoint.NewLocalBackend(envOr("CHECKPOINT_STORAGE_DIR", "./data/checkpoints")), nil
	}
}

// buildWitnessEngine runs in mock mode unless both key paths are configured,
// in which case it loads the Groth16 proving/verifying keys through the key
// cache and runs the real circuit. The proving and verifying key material is
// returned alongside the engine so the dispatcher can pass the proving key to
// GenerateProof and the settlement validator can verify with the verifying
// key, without re-touching the cache on every inference.
func buildWitnessEngine(cfg *config.Config) (*witness.Engine, *witness.KeyMaterial, *witness.KeyMaterial, error) {
	if cfg.EzklProvingKeyPath == "" || cfg.EzklVerifyingKeyPath == "" {
		log.Printf("no proving/verifying key paths configured; witness engine runs in mock mode")
		return witness.NewEngine(witness.ModeMock), nil, nil, nil
	}

	cache := keycache.New()
	provingEntry, err := cache.Get(cfg.EzklProvingKeyPath, keycache.KindProving)
	if err != nil {
		return nil, nil, nil, err
	}
	verifyingEntry, err := cache.Get(cfg.EzklVerifyingKeyPath, keycache.KindVerifying)
	if err != nil {
		return nil, nil, nil, err
	}
	provingKey := &witness.KeyMaterial{CircuitID: provingEntry.CircuitID, Payload: provingEntry.Payload}
	verifyingKey := &witness.KeyMaterial{CircuitID: verifyingEntry.CircuitID, Payload: verifyingEntry.Payload}
	return witness.NewEngine(witness.ModeReal), provingKey, verifyingKey, nil
}

// modelHashResolver is a placeholder content-hash resolver: real deployments
// bind model identifiers to content hashes published alongside each model
// release. Hashing the identifier itself keeps settlement deterministic
// without that registry wired in yet.
func modelHashResolver(modelID string) [32]byte {
	return sha256.Sum256([]byte(modelID))
}

var errNoSessionKey = &sessionKeyMissing{}

type sessionKeyMissing struct{}

func (*sessionKeyMissing) Error() string { return "no session key installed for this session" }

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

type noopEventSource struct{}

func (noopEventSource) Registrations(ctx context.Context) (<-chan registry.NodeRegisteredEvent, error) {
	ch := make(chan registry.NodeRegisteredEvent)
	return ch, nil
}

func (noopEventSource) Unregistrations(ctx context.Context) (<-chan registry.NodeUnregisteredEvent, error) {
	ch := make(chan registry.NodeUnregisteredEvent)
	return ch, nil
}

type noopSubmitter struct{}

func (noopSubmitter) Submit(ctx context.Context, claim payment.Claim) error {
	log.Printf("[Payment] no submitter configured; dropping claim for job %s", claim.JobID)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// settlementABI is the minimal submitClaim ABI this node calls against the
// settlement contract.
const settlementABI = `[{"inputs":[{"internalType":"bytes32","name":"proofHash","type":"bytes32"},{"internalType":"address","name":"host","type":"address"},{"internalType":"uint256","name":"tokensClaimed","type":"uint256"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"submitClaim","outputs":[],"stateMutability":"nonpayable","type":"function"}]`
