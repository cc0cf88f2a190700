package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

type enqueueRequest struct {
	ID       string  `json:"id" binding:"required,max=128"`
	URL      string  `json:"url" binding:"required"`
	Priority int     `json:"priority" binding:"min=0,max=5"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width" binding:"min=0"`
	Height   float64 `json:"height" binding:"min=0"`
}

type viewportRequest struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type imageResponse struct {
	ID          string        `json:"id"`
	TicketID    string        `json:"ticket_id"`
	URL         string        `json:"url"`
	Source      string        `json:"source"`
	Classes     []string      `json:"classes"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	Bounds      lazyload.Rect `json:"bounds"`
	ContentType string        `json:"content_type,omitempty"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Bytes       int           `json:"bytes,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"stats":  s.loader.Stats(),
	})
}

// enqueueImage places (or moves) an element and requests its image.
func (s *Server) enqueueImage(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	bounds := lazyload.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
	priority := lazyload.Priority(req.Priority)
	if priority == 0 {
		priority = s.priority
	}

	s.mu.Lock()
	img, ok := s.images[req.ID]
	if !ok {
		img = lazyload.NewImage(req.ID, bounds)
		s.images[req.ID] = img
	} else {
		img.Move(bounds)
	}
	s.mu.Unlock()

	ticket := s.loader.Enqueue(img, req.URL, lazyload.LoadOptions{Priority: priority})

	s.mu.Lock()
	s.tickets[req.ID] = ticket
	s.mu.Unlock()

	status := http.StatusAccepted
	if ticket.State().Terminal() {
		status = http.StatusOK
	}
	c.JSON(status, s.describe(img, ticket))
}

func (s *Server) getImage(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	img, ok := s.images[id]
	ticket := s.tickets[id]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No image with that id",
		})
		return
	}

	c.JSON(http.StatusOK, s.describe(img, ticket))
}

// updateViewport scrolls when x or y is given and resizes when width or
// height is given. Omitted fields keep their current value.
func (s *Server) updateViewport(c *gin.Context) {
	if s.viewport == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_viewport",
			"message": "Intersection detection is disabled; images load eagerly",
		})
		return
	}

	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if (req.Width != nil && *req.Width < 0) || (req.Height != nil && *req.Height < 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "width and height must not be negative",
		})
		return
	}

	current := s.viewport.Bounds()
	if req.Width != nil || req.Height != nil {
		w, h := current.Width, current.Height
		if req.Width != nil {
			w = *req.Width
		}
		if req.Height != nil {
			h = *req.Height
		}
		s.viewport.Resize(w, h)
	}
	if req.X != nil || req.Y != nil {
		x, y := current.X, current.Y
		if req.X != nil {
			x = *req.X
		}
		if req.Y != nil {
			y = *req.Y
		}
		s.viewport.ScrollTo(x, y)
	}

	c.JSON(http.StatusOK, gin.H{
		"viewport": s.viewport.Bounds(),
		"stats":    s.loader.Stats(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.loader.Stats())
}

func (s *Server) describe(img *lazyload.Image, ticket *lazyload.Ticket) imageResponse {
	resp := imageResponse{
		ID:      img.ID(),
		Source:  img.Source(),
		Classes: img.Classes(),
		Bounds:  img.Bounds(),
	}
	if ticket != nil {
		resp.TicketID = ticket.ID
		resp.URL = ticket.URL
		resp.State = ticket.State().String()
		if err := ticket.Err(); err != nil {
			resp.Error = err.Error()
		}
	}
	if res := img.Resource(); res != nil {
		resp.ContentType = res.ContentType
		resp.Width = res.Width
		resp.Height = res.Height
		resp.Bytes = res.Size()
	}
	return resp
}
