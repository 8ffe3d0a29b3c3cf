package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mosaicnetworks/roundchain/src/common"
	"github.com/mosaicnetworks/roundchain/src/dag"
	"github.com/mosaicnetworks/roundchain/src/node"
	"github.com/mosaicnetworks/roundchain/src/peers"
	"github.com/sirupsen/logrus"
)

// Service exposes the queries of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering roundchain API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(http.MethodGet, s.GetStats))
	s.mux.HandleFunc("/verify/", s.makeHandler(http.MethodGet, s.GetVerification))
	s.mux.HandleFunc("/round/", s.makeHandler(http.MethodGet, s.GetRound))
	s.mux.HandleFunc("/peers", s.makeHandler(http.MethodGet, s.GetPeers))
	s.mux.HandleFunc("/randomness/", s.makeHandler(http.MethodGet, s.GetRandomness))
	s.mux.HandleFunc("/block", s.makeHandler(http.MethodPost, s.PostBlock))
	s.mux.HandleFunc("/time", s.makeHandler(http.MethodPost, s.PostTime))
}

func (s *Service) makeHandler(method string, fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving roundchain API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetVerification answers the inclusion query of /verify/{tx hash hex}.
func (s *Service) GetVerification(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/verify/"):]

	v, err := s.node.VerifyTransaction(param)
	if err != nil {
		s.logger.WithError(err).Debugf("Verifying transaction %s", param)
		writeError(w, err)
		return
	}

	writeJSON(w, v)
}

// GetRound ...
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/round/"):]

	roundIndex, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing round parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	agg, err := s.node.Round(roundIndex)
	if err != nil {
		s.logger.WithError(err).Debugf("Retrieving round %d", roundIndex)
		writeError(w, err)
		return
	}

	writeJSON(w, agg)
}

// GetRandomness ...
func (s *Service) GetRandomness(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/randomness/"):]

	roundIndex, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rnd, ok := s.node.Randomness(roundIndex)
	if !ok {
		http.Error(w, "no finalized beacon for round "+param, http.StatusNotFound)
		return
	}

	writeJSON(w, rnd)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeers(w, s.node.GetPeers())
}

// PostBlock creates a block from the JSON list of transactions in the body.
// Transactions without a hash get a commitment for the open round and are
// sealed.
func (s *Service) PostBlock(w http.ResponseWriter, r *http.Request) {
	var txs []*dag.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, tx := range txs {
		if tx == nil {
			http.Error(w, "null transaction", http.StatusBadRequest)
			return
		}
		if tx.Hash.IsZero() {
			if tx.Commitment.TimestampNs == 0 {
				tx.Commitment = s.node.Commitment()
			}
			tx.Seal()
		}
		if err := tx.ValidatePayload(); err != nil {
			writeError(w, err)
			return
		}
	}

	block, err := s.node.CreateBlock(txs)
	if err != nil {
		s.logger.WithError(err).Debug("Creating block")
		writeError(w, err)
		return
	}

	writeJSON(w, block)
}

// TimeSample is the body of POST /time.
type TimeSample struct {
	ID     string
	TimeNs int64
}

// PostTime records a clock sample of a registered validator.
func (s *Service) PostTime(w http.ResponseWriter, r *http.Request) {
	var sample TimeSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(sample.ID) == "" || sample.TimeNs <= 0 {
		http.Error(w, "time sample requires an id and a positive time", http.StatusBadRequest)
		return
	}

	if err := s.node.SubmitTimeSample(sample.ID, sample.TimeNs); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func returnPeers(w http.ResponseWriter, peers []*peers.Peer) {
	writeJSON(w, peers)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}

// writeError maps the kind of err to a status code.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case common.IsStore(err, common.KeyNotFound):
		status = http.StatusNotFound
	case common.IsKind(err, common.Validation), common.IsKind(err, common.Timing):
		status = http.StatusBadRequest
	case common.IsKind(err, common.Capacity):
		status = http.StatusServiceUnavailable
	}

	http.Error(w, err.Error(), status)
}
