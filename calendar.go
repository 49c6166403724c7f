package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/emersion/go-ical"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// -----------------------------
// Calendar links
// -----------------------------

// eventTimes resolves the event's start and end instants. End falls back
// to start when not set. Times are treated as UTC wall-clock values.
func eventTimes(ev *Event) (time.Time, time.Time, error) {
	if ev.StartTime == nil {
		return time.Time{}, time.Time{}, errors.New("event has no start time")
	}
	start, err := time.Parse("2006-01-02 15:04", ev.Date.Format("2006-01-02")+" "+*ev.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start
	if ev.EndTime != nil {
		end, err = time.Parse("2006-01-02 15:04", ev.Date.Format("2006-01-02")+" "+*ev.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

func GoogleCalendarURL(ev *Event) string {
	start, end, err := eventTimes(ev)
	if err != nil {
		return ""
	}
	const layout = "20060102T150405Z"
	return "https://calendar.google.com/calendar/render?action=TEMPLATE" +
		"&text=" + url.QueryEscape(ev.Title) +
		"&dates=" + start.Format(layout) + "/" + end.Format(layout) +
		"&details=" + url.QueryEscape(ev.Body)
}

// EventICSBytes builds an iCalendar document for the event.
func EventICSBytes(ev *Event) ([]byte, error) {
	start, end, err := eventTimes(ev)
	if err != nil {
		return nil, err
	}

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, EncodeID(ev.ID)+"@easy-rsvp")
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	if ev.Body != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Body)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//easy-rsvp//EN")
	cal.Children = append(cal.Children, vevent)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EventICS serves the event as a downloadable .ics file. Unpublished
// events stay invisible here too.
func EventICS(c *gin.Context) {
	ev, err := findEventByParam(c.Param("event"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, "/", "This event is no longer viewable.")
			return
		}
		renderStoreFailure(c, err)
		return
	}
	if !ev.Published || ev.StartTime == nil {
		redirectWithAlert(c, "/", "This event is no longer viewable.")
		return
	}

	data, err := EventICSBytes(ev)
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", EventParam(ev)+".ics"))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", data)
}
