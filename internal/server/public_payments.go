package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const endpointPublicCheckout = "public_checkout"

// PublicCheckout hands the bill-to contact a hosted payment URL. Requests
// are throttled per client address; a limiter outage lets requests through.
func (s *Server) PublicCheckout(c *gin.Context) {
	allowed, retryAfter, err := s.checkoutLimit.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		s.log.Warn("public checkout rate limit unavailable", zap.Error(err))
		allowed = true
	}
	s.metrics.RecordRateLimit(endpointPublicCheckout, allowed)
	if !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	url, err := s.checkoutSvc.GetOrCreatePaymentURL(c.Request.Context(), id, s.cfg.PublicBaseURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
}
