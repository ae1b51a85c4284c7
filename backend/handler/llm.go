package handler

import (
	"net/http"

	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/gin-gonic/gin"
)

// ChainInfo describes a fallback chain. *llm.Chain implements it.
type ChainInfo interface {
	Providers() []string
	Steps() []llm.Step
}

type LLMHandler struct {
	chain  ChainInfo
	preset string
}

func NewLLMHandler(chain ChainInfo, preset string) *LLMHandler {
	return &LLMHandler{chain: chain, preset: preset}
}

// Providers lists the configured providers and the active fallback chain.
func (h *LLMHandler) Providers(c *gin.Context) {
	providers := h.chain.Providers()
	if providers == nil {
		providers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": providers,
		"preset":    h.preset,
		"chain":     h.chain.Steps(),
	})
}
