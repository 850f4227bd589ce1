package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mealdash/internal/aiflow"
	"mealdash/internal/donation"
	"mealdash/internal/expense"
	"mealdash/internal/hygiene"
)

func (h *handler) submitHygiene(c *gin.Context) {
	photo, err := readUpload(c, "photo", hygiene.MaxPhotoBytes)
	if err != nil {
		uploadFailed(c, err)
		return
	}
	kitchen := c.PostForm("kitchen")
	if kitchen == "" {
		kitchen = c.Query("kitchen")
	}
	rep, err := h.Hygiene.Submit(c.Request.Context(), photo, kitchen)
	if err != nil {
		if rep.ID != "" {
			// Stored but not queued; the report stays pending.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis queue unavailable", "report": rep})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rep)
}

func (h *handler) getHygiene(c *gin.Context) {
	rep, err := h.Hygiene.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handler) listHygiene(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	reps, err := h.Hygiene.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if reps == nil {
		reps = []hygiene.Report{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reps})
}

func (h *handler) submitFeedback(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	e, err := h.Feedback.Submit(c.Request.Context(), req.Feedback)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *handler) suggestDonation(c *gin.Context) {
	var in aiflow.DonationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Donations.Suggest(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) notifyDonation(c *gin.Context) {
	var o donation.Offer
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, err.Error())
		return
	}
	offer, err := h.Donations.Notify(c.Request.Context(), o)
	if err != nil {
		if offer.ID != "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delivery queue unavailable", "offer": offer})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, offer)
}

// addExpense accepts JSON, or a multipart form with an optional receipt.
func (h *handler) addExpense(c *gin.Context) {
	var req struct {
		Category    string  `json:"category" form:"category"`
		Amount      float64 `json:"amount" form:"amount"`
		Description string  `json:"description" form:"description"`
		SpentOn     string  `json:"spentOn" form:"spentOn"`
	}
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	e := expense.Expense{Category: expense.Category(req.Category), Amount: req.Amount, Description: req.Description}
	if req.SpentOn != "" {
		d, err := time.Parse(time.DateOnly, req.SpentOn)
		if err != nil {
			badRequest(c, "spentOn must look like 2024-03-31")
			return
		}
		e.SpentOn = d
	}
	var receipt []byte
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if _, _, err := c.Request.FormFile("receipt"); err == nil {
			data, err := readUpload(c, "receipt", hygiene.MaxPhotoBytes)
			if err != nil {
				uploadFailed(c, err)
				return
			}
			receipt = data
		}
	}
	saved, err := h.Expenses.Add(c.Request.Context(), e, receipt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *handler) listExpenses(c *gin.Context) {
	year, month, err := expense.ParseMonth(c.Query("month"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rows, err := h.Expenses.Month(c.Request.Context(), year, month)
	if err != nil {
		h.fail(c, err)
		return
	}
	var total float64
	for _, e := range rows {
		total += e.Amount
	}
	if rows == nil {
		rows = []expense.Expense{}
	}
	c.JSON(http.StatusOK, gin.H{
		"month":    fmt.Sprintf("%04d-%02d", year, int(month)),
		"expenses": rows,
		"total":    total,
	})
}

func (h *handler) exportExpenses(c *gin.Context) {
	year, month, err := expense.ParseMonth(c.Query("month"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := h.Expenses.Export(c.Request.Context(), &buf, year, month); err != nil {
		h.fail(c, err)
		return
	}
	name := fmt.Sprintf("expenses-%04d-%02d.xlsx", year, int(month))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
