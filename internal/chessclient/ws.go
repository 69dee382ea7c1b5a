package chessclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-arena/pkg/chessdto"
)

var ErrNotConnected = errors.New("websocket not connected")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Frame is one server message: its type plus the raw JSON for decoding.
type Frame struct {
	Type chessdto.MessageType
	Raw  json.RawMessage
}

// Decode unmarshals the frame into one of the chessdto outbound types.
func (f Frame) Decode(v any) error { return json.Unmarshal(f.Raw, v) }

type MessageCallback func(Frame)

type StateCallback func(State)

// WebSocket is one player connection. After a drop it redials with backoff
// and repeats the last MATCHMAKING so the server resumes the match.
type WebSocket struct {
	wsURL string

	connM sync.Mutex
	conn  *websocket.Conn
	state State

	msgCbs   []MessageCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	username             string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWebSocket(wsURL string, maxReconnectAttempts int) *WebSocket {
	return &WebSocket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		stopCh:               make(chan struct{}),
	}
}

func (ws *WebSocket) OnMessage(cb MessageCallback) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.msgCbs = append(ws.msgCbs, cb)
}

func (ws *WebSocket) OnStateChange(cb StateCallback) {
	ws.cbM.Lock()
	defer ws.cbM.Unlock()
	ws.stateCbs = append(ws.stateCbs, cb)
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.setState(StateConnecting)
	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(StateFailed)
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	return conn, err
}

func (ws *WebSocket) attach(conn *websocket.Conn) {
	ws.connM.Lock()
	ws.conn = conn
	ws.connM.Unlock()
	ws.setState(StateConnected)
	ws.wg.Add(1)
	go ws.listen(conn)
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(context.Background(), conn, &raw); err != nil {
			if ws.isStopping() {
				return
			}
			ws.detach(conn)
			ws.setState(StateDisconnected)
			ws.scheduleReconnect()
			return
		}
		var env chessdto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		frame := Frame{Type: env.Type, Raw: raw}

		ws.cbM.RLock()
		callbacks := append([]MessageCallback(nil), ws.msgCbs...)
		ws.cbM.RUnlock()
		for _, cb := range callbacks {
			cb(frame)
		}
	}
}

func (ws *WebSocket) detach(conn *websocket.Conn) {
	ws.connM.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.connM.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
}

func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 {
		return
	}
	ws.setState(StateReconnecting)

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := ws.dial(context.Background())
			if err != nil {
				continue
			}
			ws.attach(conn)
			if name := ws.lastUsername(); name != "" {
				_ = ws.Matchmaking(context.Background(), name)
			}
			return
		}
		ws.setState(StateFailed)
	}()
}

// Send writes one JSON frame.
func (ws *WebSocket) Send(ctx context.Context, v any) error {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	if ws.conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, ws.conn, v)
}

func (ws *WebSocket) Matchmaking(ctx context.Context, username string) error {
	ws.connM.Lock()
	ws.username = username
	ws.connM.Unlock()
	return ws.Send(ctx, chessdto.MatchmakingRequest{Type: chessdto.TypeMatchmaking, Username: username})
}

func (ws *WebSocket) Move(ctx context.Context, from, to chessdto.Square) error {
	return ws.Send(ctx, chessdto.MoveRequest{Type: chessdto.TypeMove, From: &from, To: &to})
}

func (ws *WebSocket) Positions(ctx context.Context, sq chessdto.Square) error {
	row, col := sq.Row, sq.Column
	return ws.Send(ctx, chessdto.PositionsRequest{Type: chessdto.TypeGetPieceAvailablePositions, Row: &row, Column: &col})
}

func (ws *WebSocket) lastUsername() string {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	return ws.username
}

func (ws *WebSocket) State() State {
	ws.connM.Lock()
	defer ws.connM.Unlock()
	return ws.state
}

func (ws *WebSocket) setState(s State) {
	ws.connM.Lock()
	ws.state = s
	ws.connM.Unlock()

	ws.cbM.RLock()
	callbacks := append([]StateCallback(nil), ws.stateCbs...)
	ws.cbM.RUnlock()
	for _, cb := range callbacks {
		cb(s)
	}
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.connM.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("close: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}
