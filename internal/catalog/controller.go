package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"dq-engine/internal/logs"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CatalogController struct {
	Service CatalogServiceAPI
	LS      logs.LogServicePort
}

func (cc *CatalogController) CreateDataSource(c *gin.Context) {
	var input CreateDataSourceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ds, err := cc.Service.CreateDataSource(input)
	if err != nil {
		if errors.Is(err, ErrDuplicateDataSource) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": ds})
}

func (cc *CatalogController) ListDataSources(c *gin.Context) {
	sources, err := cc.Service.ListDataSources()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sources})
}

func (cc *CatalogController) GetDataSource(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ds, err := cc.Service.GetDataSource(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "data source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ds})
}

func (cc *CatalogController) ListTables(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	tables, err := cc.Service.ListTables(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tables})
}

func (cc *CatalogController) ListFields(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	fields, err := cc.Service.ListFields(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fields})
}

func (cc *CatalogController) ListFieldStats(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	stats, err := cc.Service.ListFieldStats(id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (cc *CatalogController) ListFieldConstraints(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	constraints, err := cc.Service.ListFieldConstraints(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": constraints})
}

func (cc *CatalogController) CreateFieldConstraint(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var input CreateConstraintInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fc, err := cc.Service.CreateFieldConstraint(id, input)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidConstraint):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		case errors.Is(err, ErrDuplicateConstraint):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	logs.Record(cc.LS, c, "catalog", "constraint.create",
		fmt.Sprintf("added %s constraint to field %d", fc.ConstraintType, fc.FieldID),
		map[string]any{"constraint_id": fc.GlobalID, "expression": fc.Expression})
	c.JSON(http.StatusCreated, gin.H{"data": fc})
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return uint(id), true
}
