package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/physioconnect/physioconnect-api/internal/dto"
	"github.com/physioconnect/physioconnect-api/pkg/response"
)

// CityHandler serves the serviceable city list.
type CityHandler struct {
	cities []string
}

// NewCityHandler creates a new handler.
func NewCityHandler(cities []string) *CityHandler {
	return &CityHandler{cities: cities}
}

// List godoc
// @Summary List serviceable cities
// @Description Cities where cases can be opened
// @Tags Cities
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /cities [get]
func (h *CityHandler) List(c *gin.Context) {
	options := make([]dto.CityOption, 0, len(h.cities))
	for _, city := range h.cities {
		options = append(options, dto.CityOption{Value: city, Label: city})
	}
	response.JSON(c, http.StatusOK, options, nil)
}
