package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"sync"

	"roadscan/internal/logger"
	"roadscan/internal/model"

	"github.com/disintegration/gift"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

const (
	// DefaultPreviewWidth is the thumbnail width sent to viewers.
	DefaultPreviewWidth = 480
	broadcastBuffer     = 4
	jpegQuality         = 70
)

// Message is the JSON payload sent to viewers.
type Message struct {
	Type    string              `json:"type"`
	Image   string              `json:"image,omitempty"`
	Stats   *model.RunningStats `json:"stats,omitempty"`
	Summary *model.RunSummary   `json:"summary,omitempty"`
}

// HubService fans annotated preview frames out to connected viewers.
// Frames are dropped rather than queued when viewers are slow.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	resize     *gift.GIFT
	logger     *logger.Logger
}

// NewHubService creates a hub producing thumbnails of the given width.
func NewHubService(width int, logger *logger.Logger) *HubService {
	if width <= 0 {
		width = DefaultPreviewWidth
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		resize:     gift.New(gift.Resize(width, 0, gift.LinearResampling)),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client. Run must be called at most once.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warning("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer connection. Once Run has returned the
// connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		if client != nil {
			client.Close()
		}
	}
}

// Unregister removes and closes a viewer connection. It does not block
// once Run has returned; Run closes every client on its way out.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *HubService) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues message for every viewer. It reports false when the
// queue is full and the message was dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// PublishFrame sends a thumbnail of frame with the running stats. It does
// nothing while no viewer is connected.
func (h *HubService) PublishFrame(frame gocv.Mat, stats model.RunningStats) {
	if h.GetClientCount() == 0 {
		return
	}

	src, err := frame.ToImage()
	if err != nil {
		h.logger.Warning("Could not convert preview frame %d: %v", stats.FrameIndex, err)
		return
	}
	encoded, err := h.Thumbnail(src)
	if err != nil {
		h.logger.Warning("Could not encode preview frame %d: %v", stats.FrameIndex, err)
		return
	}

	payload, err := json.Marshal(Message{Type: "frame", Image: encoded, Stats: &stats})
	if err != nil {
		h.logger.Warning("Could not marshal preview frame %d: %v", stats.FrameIndex, err)
		return
	}
	if !h.Broadcast(payload) {
		h.logger.Debug("Preview frame %d dropped", stats.FrameIndex)
	}
}

// PublishSummary sends the final run summary.
func (h *HubService) PublishSummary(summary model.RunSummary) {
	payload, err := json.Marshal(Message{Type: "summary", Summary: &summary})
	if err != nil {
		h.logger.Warning("Could not marshal run summary: %v", err)
		return
	}
	h.Broadcast(payload)
}

// Thumbnail downscales src and returns it as a base64 JPEG.
func (h *HubService) Thumbnail(src image.Image) (string, error) {
	dst := image.NewRGBA(h.resize.Bounds(src.Bounds()))
	h.resize.Draw(dst, src)

	mat, err := gocv.ImageToMatRGB(dst)
	if err != nil {
		return "", fmt.Errorf("failed to convert thumbnail: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	defer buf.Close()
	return base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}
