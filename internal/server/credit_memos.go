package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
)

type applyCreditMemoRequest struct {
	AppliedBy string `json:"applied_by"`
}

func (s *Server) CreateCreditMemo(c *gin.Context) {
	var req creditmemodomain.CreateCreditMemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	memo, err := s.creditMemoSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": memo})
}

func (s *Server) GetCreditMemo(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	memo, err := s.creditMemoSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memo})
}

func (s *Server) ListInvoiceCreditMemos(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	memos, err := s.creditMemoSvc.ListByInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memos})
}

func (s *Server) ApplyCreditMemo(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req applyCreditMemoRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	appliedBy := strings.TrimSpace(req.AppliedBy)
	if appliedBy == "" {
		appliedBy = actorID(c)
	}

	memo, err := s.creditMemoSvc.Apply(c.Request.Context(), id, appliedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memo})
}

func (s *Server) VoidCreditMemo(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req voidRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	memo, err := s.creditMemoSvc.Void(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memo})
}

func (s *Server) RefundCreditMemo(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	memo, err := s.creditMemoSvc.ProcessRefund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memo})
}
