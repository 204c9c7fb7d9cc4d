package main

import (
	"flag"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miretskiy/flashsim/simulator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client message types
type ClientMessage struct {
	Type   string            `json:"type"`
	Config *simulator.Config `json:"config,omitempty"`
}

// Server message types
type ServerMessage struct {
	Type    string                 `json:"type"`
	Running *bool                  `json:"running,omitempty"`
	Config  *simulator.Config      `json:"config,omitempty"`
	Metrics *simulator.Metrics     `json:"metrics,omitempty"`
	State   map[string]interface{} `json:"state,omitempty"`
}

// simState manages the simulation state and UI pacing
type simState struct {
	sim     *simulator.Simulator
	config  simulator.Config
	running bool
	paused  bool
	mu      sync.Mutex
	stopCh  chan struct{}
}

func newSimState(config simulator.Config) (*simState, error) {
	sim, err := buildSim(config)
	if err != nil {
		return nil, err
	}
	return &simState{
		sim:    sim,
		config: config,
		stopCh: make(chan struct{}),
	}, nil
}

// buildSim wires a simulator with an endless random-overwrite workload,
// which keeps the merge and GC machinery visibly busy on the dashboard.
func buildSim(config simulator.Config) (*simulator.Simulator, error) {
	sim, err := simulator.NewSimulator(config)
	if err != nil {
		return nil, err
	}
	sim.SetWorkload(simulator.NewUniformRandomWorkload(
		config.TotalPages(), 0, 0.001, config.RandomSeed))
	return sim, nil
}

func (s *simState) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.paused = false
}

func (s *simState) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// reset rebuilds the simulator from the current configuration
func (s *simState) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, err := buildSim(s.config)
	if err != nil {
		return err
	}
	s.sim.Close()
	s.sim = sim
	s.running = false
	s.paused = false
	return nil
}

// updateConfig swaps in a new configuration and rebuilds the simulator
func (s *simState) updateConfig(config simulator.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, err := buildSim(config)
	if err != nil {
		return err
	}
	s.sim.Close()
	s.sim = sim
	s.config = config
	s.running = false
	s.paused = false
	return nil
}

func (s *simState) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.paused
}

func (s *simState) getConfig() simulator.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// step advances simulation by one UI tick
func (s *simState) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && !s.paused {
		s.sim.Step()
	}
}

func (s *simState) metrics() *simulator.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Metrics()
}

func (s *simState) state() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.State()
}

func (s *simState) stop() {
	close(s.stopCh)
}

// safeConn wraps a WebSocket connection with a mutex to prevent concurrent writes
type safeConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (sc *safeConn) WriteJSON(v interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.Conn.WriteJSON(v)
}

// uiUpdateLoop periodically calls Step() and sends updates to the client
func uiUpdateLoop(conn *safeConn, state *simState) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-state.stopCh:
			log.Println("UI update loop stopping")
			return

		case <-ticker.C:
			if !state.isRunning() {
				continue
			}
			state.step()

			metrics := state.metrics()
			updatePrometheusMetrics(metrics)
			if err := conn.WriteJSON(ServerMessage{Type: "metrics", Metrics: metrics}); err != nil {
				log.Printf("Error sending metrics: %v", err)
				return
			}
			if err := conn.WriteJSON(ServerMessage{Type: "state", State: state.state()}); err != nil {
				log.Printf("Error sending state: %v", err)
				return
			}
		}
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}
	defer conn.Close()

	sc := &safeConn{Conn: conn}
	log.Println("Client connected")

	config := simulator.DefaultConfig()
	state, err := newSimState(config)
	if err != nil {
		log.Printf("Error creating simulator: %v", err)
		return
	}
	defer state.stop()

	running := false
	if err := sc.WriteJSON(ServerMessage{Type: "status", Running: &running, Config: &config}); err != nil {
		log.Printf("Error sending status: %v", err)
		return
	}

	go uiUpdateLoop(sc, state)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}

		log.Printf("Received command: %s", msg.Type)

		switch msg.Type {
		case "start":
			state.start()
			sendStatus(sc, state, true)

		case "pause":
			state.pause()
			sendStatus(sc, state, false)

		case "reset":
			if err := state.reset(); err != nil {
				log.Printf("Error resetting: %v", err)
				continue
			}
			sendStatus(sc, state, false)

		case "config":
			if msg.Config == nil {
				continue
			}
			if err := state.updateConfig(*msg.Config); err != nil {
				log.Printf("Error updating config: %v", err)
				continue
			}
			sendStatus(sc, state, false)

		default:
			log.Printf("Unknown command: %s", msg.Type)
		}
	}
}

func sendStatus(sc *safeConn, state *simState, running bool) {
	cfg := state.getConfig()
	if err := sc.WriteJSON(ServerMessage{Type: "status", Running: &running, Config: &cfg}); err != nil {
		log.Printf("Error sending status: %v", err)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>flashsim</title></head>
<body>
<h1>flashsim dashboard</h1>
<p>Connect a client to <code>ws://{{.Addr}}/ws</code> for live metrics.
Prometheus metrics at <a href="/metrics">/metrics</a>.</p>
</body>
</html>`))

func main() {
	addr := flag.String("addr", "localhost:8080", "HTTP listen address")
	flag.Parse()

	initPrometheusMetrics()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := indexTemplate.Execute(w, struct{ Addr string }{*addr}); err != nil {
			log.Printf("Error rendering index: %v", err)
		}
	})
	http.HandleFunc("/ws", handleWebSocket)
	http.Handle("/metrics", promhttp.Handler())

	fmt.Printf("Serving on http://%s\n", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
