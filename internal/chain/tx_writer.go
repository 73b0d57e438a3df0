package chain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WriteState lifecycle of one custody-contract write
type WriteState string

const (
	StateIdle           WriteState = "idle"
	StateSwitchingChain WriteState = "switching_chain"
	StateSubmitting     WriteState = "submitting"
	StateConfirming     WriteState = "confirming"
	StateSuccess        WriteState = "success"
	StateError          WriteState = "error"
)

// WriteStage names the three independent progress/error channels.
type WriteStage string

const (
	StageSwitch  WriteStage = "switch"
	StageSubmit  WriteStage = "submit"
	StageConfirm WriteStage = "confirm"
)

// WriteStatus snapshot of the state machine. The tx hash is retained even
// when confirmation fails so the user can still inspect the transaction.
type WriteStatus struct {
	State      WriteState `json:"state"`
	TxHash     string     `json:"tx_hash,omitempty"`
	SwitchErr  string     `json:"switch_error,omitempty"`
	SubmitErr  string     `json:"submit_error,omitempty"`
	ConfirmErr string     `json:"confirm_error,omitempty"`
}

// StageTimeouts bounds each stage. A chain can stall indefinitely; without
// these the write would sit in confirming forever.
type StageTimeouts struct {
	Bind    time.Duration
	Submit  time.Duration
	Confirm time.Duration
}

// WriteRequest one custody-contract write
type WriteRequest struct {
	ChainID   int64
	Calldata  []byte
	OnSuccess func(txHash string)
	OnError   func(stage WriteStage, txHash string, err error)
}

// TxWriter drives a write through bind -> submit -> confirm as an explicit
// state machine. Handle is re-entrant: each call starts over from idle, and
// nothing retries automatically; a failed write surfaces to the caller, who
// may invoke Handle again from scratch.
type TxWriter struct {
	binder   Binder
	logger   *logrus.Logger
	timeouts StageTimeouts

	mu     sync.Mutex
	status WriteStatus
}

// NewTxWriter creates a writer over the given chain binder.
func NewTxWriter(binder Binder, timeouts StageTimeouts, logger *logrus.Logger) *TxWriter {
	return &TxWriter{
		binder:   binder,
		logger:   logger,
		timeouts: timeouts,
		status:   WriteStatus{State: StateIdle},
	}
}

// Status returns the current snapshot.
func (w *TxWriter) Status() WriteStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *TxWriter) setState(mutate func(*WriteStatus)) {
	w.mu.Lock()
	mutate(&w.status)
	w.mu.Unlock()
}

// Handle runs one write. With no target chain or empty calldata it is a
// no-op and the machine stays idle.
func (w *TxWriter) Handle(ctx context.Context, req WriteRequest) {
	w.setState(func(s *WriteStatus) { *s = WriteStatus{State: StateIdle} })

	if req.ChainID == 0 || len(req.Calldata) == 0 {
		return
	}

	// Bind stage: make sure we hold a verified client and signer for the
	// target chain before anything is signed.
	w.setState(func(s *WriteStatus) { s.State = StateSwitchingChain })

	bindCtx, cancel := context.WithTimeout(ctx, w.timeouts.Bind)
	submitter, err := w.binder.Bind(bindCtx, req.ChainID)
	cancel()
	if err != nil {
		w.fail(req, StageSwitch, "", err)
		return
	}

	w.setState(func(s *WriteStatus) { s.State = StateSubmitting })

	submitCtx, cancel := context.WithTimeout(ctx, w.timeouts.Submit)
	txHash, err := submitter.Submit(submitCtx, req.Calldata)
	cancel()
	if err != nil {
		w.fail(req, StageSubmit, "", err)
		return
	}

	hashHex := txHash.Hex()
	w.setState(func(s *WriteStatus) {
		s.State = StateConfirming
		s.TxHash = hashHex
	})

	confirmCtx, cancel := context.WithTimeout(ctx, w.timeouts.Confirm)
	err = submitter.Confirm(confirmCtx, txHash)
	cancel()
	if err != nil {
		w.fail(req, StageConfirm, hashHex, err)
		return
	}

	w.setState(func(s *WriteStatus) { s.State = StateSuccess })
	w.logger.WithFields(logrus.Fields{
		"chain_id": req.ChainID,
		"tx_hash":  hashHex,
	}).Info("custody write confirmed")

	if req.OnSuccess != nil {
		req.OnSuccess(hashHex)
	}
}

func (w *TxWriter) fail(req WriteRequest, stage WriteStage, txHash string, err error) {
	w.setState(func(s *WriteStatus) {
		s.State = StateError
		switch stage {
		case StageSwitch:
			s.SwitchErr = err.Error()
		case StageSubmit:
			s.SubmitErr = err.Error()
		case StageConfirm:
			s.ConfirmErr = err.Error()
		}
	})
	w.logger.WithFields(logrus.Fields{
		"chain_id": req.ChainID,
		"stage":    stage,
		"tx_hash":  txHash,
	}).WithError(err).Warn("custody write failed")

	if req.OnError != nil {
		req.OnError(stage, txHash, err)
	}
}
