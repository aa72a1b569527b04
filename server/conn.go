package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/justapithecus/ftecho/log"
	"github.com/justapithecus/ftecho/wire"
)

// session is the per-connection state: one decoder, one encoder, one logger
// with the remote address attached. Operations run strictly sequentially on
// a session; there is no pipelining within a connection.
type session struct {
	srv  *Server
	conn net.Conn
	dec  *wire.Decoder
	enc  *wire.Encoder
	log  *log.Logger
}

// handleConn runs the connection loop: decode one top-level frame, dispatch,
// repeat until QUIT, framing failure, or disconnect. A panic in one
// connection is contained here.
func (s *Server) handleConn(conn net.Conn) {
	logger := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Info("client connected")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in connection handler", zap.Any("panic", r))
		}
		_ = conn.Close()
		s.untrack(conn)
		s.metrics.IncConnectionClosed()
		logger.Info("client disconnected")
	}()

	sess := &session{
		srv:  s,
		conn: conn,
		dec:  wire.NewDecoder(bufio.NewReader(conn)),
		enc:  wire.NewEncoder(conn),
		log:  logger,
	}
	sess.run()
}

func (sess *session) run() {
	for {
		f, err := sess.readFrame()
		if err != nil {
			sess.logReadFailure(err)
			return
		}

		if !sess.dispatch(f) {
			return
		}
	}
}

// dispatch routes one top-level frame. Returns false when the connection
// should close (QUIT or an unrecoverable failure mid-operation).
func (sess *session) dispatch(f wire.Frame) bool {
	switch f.Type {
	case wire.TypeQuit:
		sess.srv.metrics.IncOpStarted(opQuit)
		// Acknowledge before closing; harmless if the peer already went away.
		_ = sess.send(wire.TypeOK, []byte("Goodbye"))
		sess.srv.metrics.IncOpSucceeded(opQuit)
		return false
	case wire.TypeList:
		return sess.finishOp(opList, sess.handleList(f.Payload))
	case wire.TypeGet:
		return sess.finishOp(opGet, sess.handleGet(f.Payload))
	case wire.TypePut:
		return sess.finishOp(opPut, sess.handlePut(f.Payload))
	case wire.TypeResume:
		return sess.handleResume(f.Payload)
	default:
		// A defined tag that is not a request (O/E/F/S at top level). The
		// framing is still intact, so reply and stay open.
		sess.log.Warn("unexpected top-level frame", zap.String("type", string(f.Type)))
		return sess.sendError("Unexpected message type: "+string(f.Type)) == nil
	}
}

// finishOp translates a handler result into metrics and the connection
// fate: nil and opError keep the connection open, anything else closes it.
func (sess *session) finishOp(op string, err error) bool {
	switch {
	case err == nil:
		sess.srv.metrics.IncOpSucceeded(op)
		return true
	case isOpError(err):
		sess.srv.metrics.IncOpFailed(op)
		return true
	default:
		sess.srv.metrics.IncOpFailed(op)
		if wire.IsFrameError(err) {
			sess.srv.metrics.IncProtocolError()
		}
		sess.log.Warn("operation aborted connection",
			zap.String("op", op), zap.Error(err))
		return false
	}
}

// readFrame reads one frame, applying the idle deadline when configured.
func (sess *session) readFrame() (wire.Frame, error) {
	if sess.srv.idleTimeout > 0 {
		if err := sess.conn.SetReadDeadline(time.Now().Add(sess.srv.idleTimeout)); err != nil {
			return wire.Frame{}, err
		}
	}
	return sess.dec.ReadFrame()
}

func (sess *session) logReadFailure(err error) {
	switch {
	case err == io.EOF:
		// Peer closed between operations; normal end of session.
	case wire.IsFrameError(err):
		sess.srv.metrics.IncProtocolError()
		sess.log.Warn("closing desynchronized connection", zap.Error(err))
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			sess.log.Info("closing idle connection")
			return
		}
		sess.log.Warn("read failed", zap.Error(err))
	}
}

func (sess *session) send(tag byte, payload []byte) error {
	return sess.enc.WriteFrame(wire.Frame{Type: tag, Payload: payload})
}

// sendError reports a recoverable operation failure to the peer.
func (sess *session) sendError(msg string) error {
	sess.log.Warn("operation failed", zap.String("reason", msg))
	return sess.send(wire.TypeError, []byte(msg))
}
