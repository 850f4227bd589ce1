package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mealdash/internal/aiflow"
)

func (h *handler) checkIn(c *gin.Context) {
	var req struct {
		StudentID string `json:"studentId" binding:"required"`
		ScanID    string `json:"scanId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	_, ok, err := h.Roster.LookupByID(c.Request.Context(), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, fmt.Errorf("student %s: %w", req.StudentID, errNotFound))
		return
	}
	ci, err := h.Attendance.CheckIn(c.Request.Context(), req.StudentID, subject(c), req.ScanID)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if ci.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, ci)
}

func (h *handler) dailyAttendance(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "days must be a number")
			return
		}
		days = parsed
	}
	counts, err := h.Attendance.DailyCounts(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":          counts,
		"expectedToday": h.Attendance.ExpectedMeals(c.Request.Context(), time.Now()),
	})
}

func (h *handler) planMeal(c *gin.Context) {
	var in aiflow.MealPlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.AI.PlanMeal(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// purchasePlan defaults numberOfStudents to today's expected meals.
func (h *handler) purchasePlan(c *gin.Context) {
	var in aiflow.PurchasePlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.NumberOfStudents == 0 {
		in.NumberOfStudents = h.Attendance.ExpectedMeals(c.Request.Context(), time.Now())
	}
	out, err := h.AI.GeneratePurchasePlan(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"output":           out.Output,
		"manual":           out.Manual,
		"notice":           out.Notice,
		"numberOfStudents": in.NumberOfStudents,
	})
}
