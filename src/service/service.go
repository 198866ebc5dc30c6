package service

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/node"
	"github.com/braidnetworks/braid/src/peers"
)

// Service exposes a node's state over HTTP: stats, peers, the current tip
// set, and the prometheus metrics of the gossip layer.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService instantiates a Service and registers its handlers.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process
// is simultaneously using the DefaultServerMux, in which case the handlers
// are accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Braid API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/tips", s.makeHandler(s.GetTips))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/submit", s.makeHandler(s.SubmitTransaction))
	http.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary
// to call Serve when Braid runs in-process and another server has already
// been started on the DefaultServerMux with the same address:port
// combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Braid API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node's statistics map.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// tipInfo is the JSON shape of one tip in the /tips response.
type tipInfo struct {
	Hash       string `json:"hash"`
	CreatorID  uint32 `json:"creator_id"`
	Generation int64  `json:"generation"`
	CreatorSeq int64  `json:"creator_seq"`
}

// GetTips returns the current tip set of the ancestry index together with
// the node's generation bounds.
func (s *Service) GetTips(w http.ResponseWriter, r *http.Request) {
	bounds := s.node.Bounds()

	tips := []tipInfo{}
	for _, tip := range s.node.Tips() {
		tips = append(tips, tipInfo{
			Hash:       tip.Hex(),
			CreatorID:  tip.CreatorID(),
			Generation: tip.Generation(),
			CreatorSeq: tip.Unhashed.CreatorSeq,
		})
	}

	res := map[string]interface{}{
		"min_generation": bounds.Min,
		"max_generation": bounds.Max,
		"tips":           tips,
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// SubmitTransaction queues the request body as a transaction for the next
// self-event.
func (s *Service) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "expected POST", http.StatusMethodNotAllowed)
		return
	}

	tx, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(tx) == 0 {
		http.Error(w, "empty transaction", http.StatusBadRequest)
		return
	}

	s.node.SubmitTransaction(tx)

	w.WriteHeader(http.StatusAccepted)
}

// GetPeers returns the node's peer set.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeerSet(w, r, s.node.GetPeers())
}

func returnPeerSet(w http.ResponseWriter, r *http.Request, peers []*peers.Peer) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(peers)
}
