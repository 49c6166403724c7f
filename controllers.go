package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------
// Helper functions
// -----------------------------

func redirectWithAlert(c *gin.Context, location, msg string) {
	setFlash(c, flashAlertCookie, msg)
	c.Redirect(http.StatusSeeOther, location)
}

func redirectWithSuccess(c *gin.Context, location, msg string) {
	setFlash(c, flashSuccessCookie, msg)
	c.Redirect(http.StatusSeeOther, location)
}

// render wraps c.HTML, merging in any pending flash messages.
func render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if _, ok := data["Alert"]; !ok {
		data["Alert"] = takeFlash(c, flashAlertCookie)
	}
	if _, ok := data["Success"]; !ok {
		data["Success"] = takeFlash(c, flashSuccessCookie)
	}
	data["Debug"] = cfg.Debug
	c.HTML(status, name, data)
}

// renderStoreFailure logs the persistence error with enough context to
// diagnose and shows the user a generic failure page. Details reach the
// response only in local/debug mode.
func renderStoreFailure(c *gin.Context, err error) {
	logger.Error("store failure",
		zap.String("db_host", cfg.DB.Host),
		zap.String("db_name", cfg.DB.Name),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	detail := ""
	if cfg.Debug {
		detail = err.Error()
	}
	render(c, http.StatusInternalServerError, "error.html", gin.H{"Detail": detail})
	c.Abort()
}

// findEventByParam resolves an opaque URL parameter to an event. An
// undecodable parameter and a missing record are the same outcome.
func findEventByParam(param string) (*Event, error) {
	id, ok := DecodeParam(param)
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	var ev Event
	if err := DB.First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func eventPath(ev *Event) string {
	return "/" + EventParam(ev)
}

func adminPath(ev *Event) string {
	return eventPath(ev) + "/admin/" + ev.AdminToken
}

func responseLabel(r string) string {
	switch r {
	case ResponseYes:
		return "Yes"
	case ResponseMaybe:
		return "Maybe"
	case ResponseNo:
		return "No"
	}
	return r
}

// -----------------------------
// Event form
// -----------------------------

type EventForm struct {
	Title            string `form:"title"`
	Date             string `form:"date"`
	StartTime        string `form:"start_time"`
	EndTime          string `form:"end_time"`
	Body             string `form:"body"`
	ShowRsvpNames    bool   `form:"show_rsvp_names"`
	SecurityQuestion string `form:"security_question"`
	SecurityAnswer   string `form:"security_answer"`
}

// Validate checks the shared event fields. The security question/answer
// pair is only settable at creation. Returns field errors and the parsed
// date (zero when invalid).
func (f *EventForm) Validate(forCreate bool) (map[string]string, time.Time) {
	errs := make(map[string]string)

	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		errs["title"] = "Title is required."
	} else if len(f.Title) > 255 {
		errs["title"] = "Title must be 255 characters or fewer."
	}

	var date time.Time
	if f.Date == "" {
		errs["date"] = "Date is required."
	} else {
		var err error
		date, err = time.Parse("2006-01-02", f.Date)
		if err != nil {
			errs["date"] = "Date must be in YYYY-MM-DD format."
		}
	}

	for field, value := range map[string]string{"start_time": f.StartTime, "end_time": f.EndTime} {
		if value == "" {
			continue
		}
		if _, err := time.Parse("15:04", value); err != nil {
			errs[field] = "Time must be in HH:MM format."
		}
	}
	// Same-day events only, so a lexical compare of zero-padded HH:MM is
	// exactly the strictly-later check.
	if f.StartTime != "" && f.EndTime != "" && errs["start_time"] == "" && errs["end_time"] == "" {
		if f.EndTime <= f.StartTime {
			errs["end_time"] = "End time must be after start time."
		}
	}

	if forCreate {
		f.SecurityQuestion = strings.TrimSpace(f.SecurityQuestion)
		f.SecurityAnswer = strings.TrimSpace(f.SecurityAnswer)
		if f.SecurityQuestion != "" && f.SecurityAnswer == "" {
			errs["security_answer"] = "Security answer is required when security question is provided."
		}
		if f.SecurityAnswer != "" && f.SecurityQuestion == "" {
			errs["security_question"] = "Security question is required when security answer is provided."
		}
	}

	return errs, date
}

// -----------------------------
// Custom field form
// -----------------------------

// The event forms submit custom fields as custom_fields[i][attr] pairs
// with options one per line in options_text. Neither gin nor the validator
// binds indexed-bracket form arrays, so the keys are decoded here.

var customFieldKeyRe = regexp.MustCompile(`^custom_fields\[(\d+)\]\[(\w+)\]$`)

type CustomFieldForm struct {
	Index       int
	ID          uint
	Name        string
	Type        string
	OptionsText string
	Required    bool
}

func ParseCustomFieldForms(form url.Values) []CustomFieldForm {
	rows := make(map[int]*CustomFieldForm)
	for key, vals := range form {
		m := customFieldKeyRe.FindStringSubmatch(key)
		if m == nil || len(vals) == 0 {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		row, ok := rows[idx]
		if !ok {
			row = &CustomFieldForm{Index: idx}
			rows[idx] = row
		}
		v := vals[0]
		switch m[2] {
		case "id":
			id, err := strconv.ParseUint(v, 10, 64)
			if err == nil {
				row.ID = uint(id)
			}
		case "name":
			row.Name = strings.TrimSpace(v)
		case "type":
			row.Type = v
		case "options_text":
			row.OptionsText = v
		case "required":
			row.Required = v == "1" || v == "true" || v == "on"
		}
	}

	out := make([]CustomFieldForm, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (f *CustomFieldForm) Options() []string {
	var opts []string
	for _, line := range strings.Split(f.OptionsText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			opts = append(opts, line)
		}
	}
	return opts
}

func (f *CustomFieldForm) Validate() string {
	if !IsFieldType(f.Type) {
		return "Field type must be one of: " + strings.Join(FieldTypes, ", ") + "."
	}
	probe := CustomField{Type: f.Type}
	if probe.HasOptions() && len(f.Options()) == 0 {
		return "Choice fields need at least one option."
	}
	return ""
}

// -----------------------------
// Events
// -----------------------------

func eventPlaceholders() gin.H {
	return gin.H{
		"Title": "BBQ party in our backyard 🏡🍔🍻",
		"Body":  "Hey everyone, summer is finally here so let's celebrate with some grilled food and cold beers! Our address: 1000 Hart Street in Brooklyn.",
	}
}

func NewEventPage(c *gin.Context) {
	render(c, http.StatusOK, "event_new.html", gin.H{
		"Placeholders": eventPlaceholders(),
		"FieldTypes":   FieldTypes,
		"Errors":       map[string]string{},
		"Old":          url.Values{},
	})
}

func CreateEvent(c *gin.Context) {
	var form EventForm
	if err := c.ShouldBind(&form); err != nil {
		redirectWithAlert(c, "/", "Invalid form submission.")
		return
	}
	fieldForms := ParseCustomFieldForms(c.Request.PostForm)

	errs, date := form.Validate(true)
	for _, ff := range fieldForms {
		if msg := ff.Validate(); msg != "" {
			errs[fmt.Sprintf("custom_fields.%d", ff.Index)] = msg
		}
	}
	if len(errs) > 0 {
		render(c, http.StatusUnprocessableEntity, "event_new.html", gin.H{
			"Placeholders": eventPlaceholders(),
			"FieldTypes":   FieldTypes,
			"Errors":       errs,
			"Old":          c.Request.PostForm,
		})
		return
	}

	ev := Event{
		Title:         form.Title,
		Date:          date,
		Body:          form.Body,
		Published:     true,
		ShowRsvpNames: true,
	}
	if form.StartTime != "" {
		ev.StartTime = &form.StartTime
	}
	if form.EndTime != "" {
		ev.EndTime = &form.EndTime
	}
	if form.SecurityQuestion != "" {
		ev.SecurityQuestion = &form.SecurityQuestion
	}
	if err := ev.SetSecurityAnswer(form.SecurityAnswer); err != nil {
		renderStoreFailure(c, err)
		return
	}

	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		for i, ff := range fieldForms {
			cf := CustomField{
				EventID:   ev.ID,
				Name:      ff.Name,
				Type:      ff.Type,
				Options:   ff.Options(),
				Required:  ff.Required,
				SortOrder: i,
			}
			if err := tx.Create(&cf).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	c.Redirect(http.StatusSeeOther, adminPath(&ev))
}

type rsvpAnswer struct {
	Field string
	Value string
}

type rsvpView struct {
	Name    string
	Hashid  string
	Owned   bool
	Answers []rsvpAnswer
}

type responseGroup struct {
	Label string
	Count int
	Rsvps []rsvpView
}

// buildEventShowData assembles everything the public page needs: the RSVP
// form fields, the grouped guest list with ownership flags, and calendar
// links. Reused when an RSVP submission re-renders with errors.
func buildEventShowData(c *gin.Context, ev *Event) (gin.H, error) {
	var fields []CustomField
	if err := DB.Where("event_id = ?", ev.ID).Order("sort_order asc, id asc").Find(&fields).Error; err != nil {
		return nil, err
	}

	var rsvps []Rsvp
	if err := DB.Preload("CustomFieldResponses.CustomField").
		Where("event_id = ?", ev.ID).Order("created_at asc").Find(&rsvps).Error; err != nil {
		return nil, err
	}

	sid := SessionID(c)
	eventHash := EncodeID(ev.ID)
	owned := OwnedRsvps(c.Request.Context(), sid, eventHash)

	responded := false
	groups := make([]responseGroup, 0, len(RsvpResponses))
	for _, response := range RsvpResponses {
		group := responseGroup{Label: responseLabel(response)}
		for _, r := range rsvps {
			if r.Response != response {
				continue
			}
			group.Count++
			hash := r.Hashid()
			isOwn := owned[hash]
			if isOwn {
				responded = true
			}
			// Hidden names stay countable; a guest always sees their
			// own entries.
			if !ev.ShowRsvpNames && !isOwn {
				continue
			}
			view := rsvpView{Name: r.Name, Hashid: hash, Owned: isOwn}
			for _, resp := range r.CustomFieldResponses {
				view.Answers = append(view.Answers, rsvpAnswer{
					Field: resp.CustomField.Name,
					Value: resp.FormattedValue(),
				})
			}
			group.Rsvps = append(group.Rsvps, view)
		}
		if group.Count > 0 {
			groups = append(groups, group)
		}
	}

	googleCalendarURL := ""
	if ev.StartTime != nil {
		googleCalendarURL = GoogleCalendarURL(ev)
	}

	data := gin.H{
		"Event":             ev,
		"Param":             EventParam(ev),
		"Fields":            fields,
		"Groups":            groups,
		"Responded":         responded,
		"GoogleCalendarURL": googleCalendarURL,
		"Errors":            map[string]string{},
		"Old":               url.Values{},
	}
	if cfg.Debug {
		data["AdminPath"] = adminPath(ev)
	}
	return data, nil
}

func ShowEvent(c *gin.Context) {
	ev, err := findEventByParam(c.Param("event"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, "/", "This event is no longer viewable.")
			return
		}
		renderStoreFailure(c, err)
		return
	}
	if !ev.Published {
		redirectWithAlert(c, "/", "This event is no longer viewable.")
		return
	}

	data, err := buildEventShowData(c, ev)
	if err != nil {
		renderStoreFailure(c, err)
		return
	}
	render(c, http.StatusOK, "event_show.html", data)
}

// -----------------------------
// RSVPs
// -----------------------------

func customFieldKey(id uint) string {
	return fmt.Sprintf("custom_field_%d", id)
}

func CreateRsvp(c *gin.Context) {
	ev, err := findEventByParam(c.Param("event"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, "/", "Event not found.")
			return
		}
		renderStoreFailure(c, err)
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		redirectWithAlert(c, eventPath(ev), "Invalid form submission.")
		return
	}

	var fields []CustomField
	if err := DB.Where("event_id = ?", ev.ID).Order("sort_order asc, id asc").Find(&fields).Error; err != nil {
		renderStoreFailure(c, err)
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	response := c.PostForm("response")

	errs := make(map[string]string)
	if name == "" {
		errs["name"] = "Your name is required."
	} else if len(name) > 255 {
		errs["name"] = "Your name must be 255 characters or fewer."
	}
	if !IsRsvpResponse(response) {
		errs["response"] = "Response must be yes, maybe or no."
	}

	// values holds each answered field's stored form: scalar string, or a
	// JSON array for multi-value fields. Unanswered optional fields get no
	// response row at all.
	values := make(map[uint]string)
	for _, f := range fields {
		key := customFieldKey(f.ID)
		if f.IsMultiValue() {
			vals := c.PostFormArray(key)
			if f.Required && len(vals) == 0 {
				errs[key] = f.Name + " is required."
				continue
			}
			if len(vals) > 0 {
				encoded, err := json.Marshal(vals)
				if err != nil {
					errs[key] = f.Name + " could not be saved."
					continue
				}
				values[f.ID] = string(encoded)
			}
			continue
		}

		v := strings.TrimSpace(c.PostForm(key))
		if f.Required && v == "" {
			errs[key] = f.Name + " is required."
			continue
		}
		if v == "" {
			continue
		}
		if f.Type == FieldTypeNumber {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				errs[key] = f.Name + " must be a number."
				continue
			}
		}
		if len(v) > 1000 {
			errs[key] = f.Name + " must be 1000 characters or fewer."
			continue
		}
		values[f.ID] = v
	}

	if len(errs) > 0 {
		data, derr := buildEventShowData(c, ev)
		if derr != nil {
			renderStoreFailure(c, derr)
			return
		}
		data["Errors"] = errs
		data["Old"] = c.Request.PostForm
		render(c, http.StatusUnprocessableEntity, "event_show.html", data)
		return
	}

	rsvp := Rsvp{EventID: ev.ID, Name: name, Response: response}
	err = DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rsvp).Error; err != nil {
			return err
		}
		for _, f := range fields {
			v, ok := values[f.ID]
			if !ok {
				continue
			}
			resp := CustomFieldResponse{RsvpID: rsvp.ID, CustomFieldID: f.ID, Value: v}
			if err := tx.Create(&resp).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	sid := SessionID(c)
	if err := RecordOwnership(c.Request.Context(), sid, EncodeID(ev.ID), rsvp.Hashid()); err != nil {
		// The RSVP is saved either way; the guest just loses the delete
		// affordance for it.
		logger.Warn("could not record rsvp ownership", zap.Error(err))
	}

	redirectWithSuccess(c, eventPath(ev), "Your RSVP has been recorded!")
}

func DeleteRsvp(c *gin.Context) {
	ev, err := findEventByParam(c.Param("event"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, "/", "Event not found.")
			return
		}
		renderStoreFailure(c, err)
		return
	}

	rsvpID, ok := DecodeParam(c.Param("rsvp"))
	if !ok {
		redirectWithAlert(c, eventPath(ev), "RSVP not found.")
		return
	}
	var rsvp Rsvp
	if err := DB.Where("event_id = ?", ev.ID).First(&rsvp, rsvpID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			redirectWithAlert(c, eventPath(ev), "RSVP not found.")
			return
		}
		renderStoreFailure(c, err)
		return
	}

	sid := SessionID(c)
	eventHash := EncodeID(ev.ID)
	if !IsOwned(c.Request.Context(), sid, eventHash, rsvp.Hashid()) {
		redirectWithAlert(c, eventPath(ev), "You can only delete your own RSVPs.")
		return
	}

	err = DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rsvp_id = ?", rsvp.ID).Delete(&CustomFieldResponse{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Rsvp{}, rsvp.ID).Error
	})
	if err != nil {
		renderStoreFailure(c, err)
		return
	}

	if err := RevokeOwnership(c.Request.Context(), sid, eventHash, rsvp.Hashid()); err != nil {
		logger.Warn("could not revoke rsvp ownership", zap.Error(err))
	}

	redirectWithSuccess(c, eventPath(ev), "Your RSVP has been removed.")
}
