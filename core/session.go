// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/miekg/dns"
)

type Stage int

const (
	StageSelectDomain Stage = iota
	StageSelectRecordType
	StageEnterContent
	StageSelectProxyStatus
	StageReviewConfirm
	StageSubmitting

	// Terminal stages.
	StageConfirmed
	StageFailed
	StageCancelled
	StageTimedOut
)

var stageNames = [...]string{
	StageSelectDomain:      "select-domain",
	StageSelectRecordType:  "select-record-type",
	StageEnterContent:      "enter-content",
	StageSelectProxyStatus: "select-proxy-status",
	StageReviewConfirm:     "review-confirm",
	StageSubmitting:        "submitting",
	StageConfirmed:         "confirmed",
	StageFailed:            "failed",
	StageCancelled:         "cancelled",
	StageTimedOut:          "timed-out",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}

func (s Stage) Terminal() bool { return s >= StageConfirmed }

// Input is one user answer. Each stage accepts exactly one input type.
type Input interface {
	input()
}

type DomainChoice struct{ Domain string }

type RecordTypeChoice struct{ Type string }

type Content struct {
	Name     string
	Target   string
	Features map[string]string
}

type ProxyChoice struct{ Proxied bool }

type Decision struct{ Confirm bool }

func (DomainChoice) input()     {}
func (RecordTypeChoice) input() {}
func (Content) input()          {}
func (ProxyChoice) input()      {}
func (Decision) input()         {}

var numericFeatures = map[string]bool{
	"priority": true,
	"weight":   true,
	"port":     true,
}

var ErrNoSession = errors.New("no such session")

type Field struct {
	Name  string
	Value string
}

// View is a read-only copy of a session for rendering.
type View struct {
	ID    string
	User  string
	Stage Stage

	Domain     string
	RecordType string
	Name       string
	Target     string
	Proxied    bool
	Features   []Field

	// Options are the accepted choices at the select stages.
	Options []string
	// Required are the extra fields asked for at EnterContent.
	Required []string

	Detail string
}

func (v *View) CanonicalName() string {
	if v.Name == "" {
		return ""
	}
	return v.Name + "." + v.Domain
}

func ProxyLabel(proxied bool) string {
	if proxied {
		return "Proxied"
	}
	return "DNS only"
}

// Summary lists every collected field in display order.
func (v *View) Summary() []Field {
	var fields []Field
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{Name: name, Value: value})
		}
	}
	add("Domain", v.Domain)
	add("Record Type", v.RecordType)
	add("Name", v.CanonicalName())
	add("Content", v.Target)
	if v.Stage > StageSelectProxyStatus {
		add("Proxy Status", ProxyLabel(v.Proxied))
	}
	fields = append(fields, v.Features...)
	return fields
}

type Session struct {
	ID   string
	User string

	lock   sync.Mutex
	stage  Stage
	intent Intent
	detail string

	gen   uint64
	timer *time.Timer
}

// Manager owns every live provisioning session.
type Manager struct {
	Config   *Config
	Ledger   *Ledger
	Registry Registry
	Log      logr.Logger
	Timeout  time.Duration

	// OnExpire is called outside any lock after a session times out.
	OnExpire func(v View)

	lock     sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string
	pending  map[string]string
}

func NewManager(cfg *Config, ledger *Ledger, registry Registry, log logr.Logger) *Manager {
	return &Manager{
		Config:   cfg,
		Ledger:   ledger,
		Registry: registry,
		Log:      log,
		Timeout:  cfg.SessionTimeout,
		sessions: map[string]*Session{},
		byUser:   map[string]string{},
		pending:  map[string]string{},
	}
}

// Start opens a session at SelectDomain. An older session of the same user
// is cancelled.
func (m *Manager) Start(user string) (View, error) {
	if m.Ledger.IsBanned(user) {
		return View{}, denied("user %s is banned from creating subdomains", user)
	}

	s := &Session{
		ID:    uuid.NewString(),
		User:  user,
		stage: StageSelectDomain,
	}

	m.lock.Lock()
	oldID, hasOld := m.byUser[user]
	old := m.sessions[oldID]
	m.sessions[s.ID] = s
	m.byUser[user] = s.ID
	m.lock.Unlock()

	if hasOld && old != nil {
		m.cancelSuperseded(old)
	}

	s.lock.Lock()
	m.touch(s)
	v := s.view(m)
	s.lock.Unlock()

	m.Log.Info("session started", "session", s.ID, "user", user)
	return v, nil
}

func (m *Manager) cancelSuperseded(s *Session) {
	s.lock.Lock()
	if s.stage.Terminal() || s.stage == StageSubmitting {
		s.lock.Unlock()
		return
	}
	s.stage = StageCancelled
	s.stopTimer()
	s.lock.Unlock()

	m.remove(s)
	m.Log.V(1).Info("session superseded", "session", s.ID, "user", s.User)
}

// Lookup returns the current view of a live session.
func (m *Manager) Lookup(id string) (View, bool) {
	m.lock.Lock()
	s, ok := m.sessions[id]
	m.lock.Unlock()
	if !ok {
		return View{}, false
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.view(m), true
}

func (m *Manager) Active() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sessions)
}

// Apply feeds one input to the session. Validation errors leave the session
// where it was. A confirmed session ends in StageConfirmed or StageFailed;
// for the latter the returned error says why.
func (m *Manager) Apply(ctx context.Context, id, user string, in Input) (v View, err error) {
	m.lock.Lock()
	s, ok := m.sessions[id]
	m.lock.Unlock()
	if !ok {
		return View{}, ErrNoSession
	}
	if s.User != user {
		return View{}, denied("session %s belongs to another user", id)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		m.Log.Error(fmt.Errorf("%v", r), "session step failed", "session", s.ID, "user", s.User)
		v = m.finish(s, StageFailed, ErrInternal.Error())
		err = ErrInternal
	}()

	v, submit, err := m.advance(s, in)
	if err != nil || !submit {
		return v, err
	}
	return m.submit(ctx, s)
}

func (m *Manager) advance(s *Session, in Input) (View, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stage.Terminal() || s.stage == StageSubmitting {
		return s.view(m), false, invalid("session is already %s", s.stage)
	}
	m.touch(s)

	wrongStage := func() error {
		return invalid("%T is not accepted at %s", in, s.stage)
	}

	var err error
	switch s.stage {
	case StageSelectDomain:
		c, ok := in.(DomainChoice)
		if !ok {
			return s.view(m), false, wrongStage()
		}
		err = m.selectDomain(s, c)

	case StageSelectRecordType:
		c, ok := in.(RecordTypeChoice)
		if !ok {
			return s.view(m), false, wrongStage()
		}
		err = m.selectRecordType(s, c)

	case StageEnterContent:
		c, ok := in.(Content)
		if !ok {
			return s.view(m), false, wrongStage()
		}
		err = m.enterContent(s, c)

	case StageSelectProxyStatus:
		c, ok := in.(ProxyChoice)
		if !ok {
			return s.view(m), false, wrongStage()
		}
		s.intent.Proxied = c.Proxied
		s.stage = StageReviewConfirm

	case StageReviewConfirm:
		c, ok := in.(Decision)
		if !ok {
			return s.view(m), false, wrongStage()
		}
		s.stopTimer()
		if c.Confirm {
			s.stage = StageSubmitting
			return s.view(m), true, nil
		}
		s.stage = StageCancelled
		v := s.view(m)
		m.remove(s)
		m.Log.Info("session cancelled", "session", s.ID, "user", s.User)
		return v, false, nil
	}

	return s.view(m), false, err
}

func (m *Manager) selectDomain(s *Session, c DomainChoice) error {
	if _, ok := m.Config.Domain(c.Domain); !ok {
		return invalid("%q is not an available domain", c.Domain)
	}
	s.intent.Domain = c.Domain
	s.stage = StageSelectRecordType
	return nil
}

func (m *Manager) selectRecordType(s *Session, c RecordTypeChoice) error {
	if !m.Config.HasRecordType(c.Type) {
		return invalid("%q is not an available record type", c.Type)
	}
	s.intent.Type = c.Type
	s.stage = StageEnterContent
	return nil
}

func (m *Manager) enterContent(s *Session, c Content) error {
	target := strings.TrimSpace(c.Target)
	name, err := NormalizeName(c.Name)
	switch {
	case err != nil:
		return err
	case name == "":
		return invalid("subdomain name must not be empty")
	case target == "":
		return invalid("record content must not be empty")
	}

	label, err := ownLabel(name)
	if err != nil {
		return err
	}

	domain, _ := m.Config.Domain(s.intent.Domain)
	ok, err := MatchGlob(label, domain.Glob)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("%q is not allowed under %s", label, domain.Name)
	}

	fqdn := name + "." + domain.Name
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return invalid("%q is not a valid domain name", fqdn)
	}
	if label != name {
		if owner, taken := m.Ledger.FindOwner(label + "." + domain.Name); taken && owner != s.User {
			return invalid("%s.%s belongs to someone else", label, domain.Name)
		}
	}

	required := m.Config.Features(s.intent.Type)
	features := make(map[string]string, len(required))
	for _, f := range required {
		v := strings.TrimSpace(c.Features[f])
		if v == "" {
			return invalid("%s must not be empty", f)
		}
		if numericFeatures[f] {
			if _, err := strconv.ParseUint(v, 10, 16); err != nil {
				return invalid("%s must be a number between 0 and 65535", f)
			}
		}
		features[f] = v
	}

	if _, taken := m.Ledger.FindOwner(fqdn); taken {
		return invalid("%s is already registered", fqdn)
	}

	s.intent.Name = name
	s.intent.Target = target
	s.intent.Features = features
	s.stage = StageSelectProxyStatus
	return nil
}

// submit runs with the session parked in StageSubmitting, so no other input
// can reach it and the inactivity timer is already stopped.
func (m *Manager) submit(ctx context.Context, s *Session) (View, error) {
	s.lock.Lock()
	intent := s.intent
	s.lock.Unlock()

	fqdn := intent.CanonicalName()
	log := m.Log.WithValues("session", s.ID, "user", s.User, "name", fqdn)

	if !m.reserve(fqdn, s.ID) {
		err := invalid("%s is being registered by someone else", fqdn)
		return m.finish(s, StageFailed, err.Error()), err
	}
	defer m.release(fqdn)

	if m.Ledger.IsBanned(s.User) {
		err := denied("user %s is banned from creating subdomains", s.User)
		return m.finish(s, StageFailed, err.Error()), err
	}
	if _, taken := m.Ledger.FindOwner(fqdn); taken {
		err := invalid("%s is already registered", fqdn)
		return m.finish(s, StageFailed, err.Error()), err
	}

	recordID, err := m.Registry.CreateRecord(ctx, &intent)
	if err != nil {
		pe := NewProviderError("create record", err)
		log.Info("record creation failed", "detail", pe.Detail)
		return m.finish(s, StageFailed, pe.Detail), pe
	}

	claimed, err := m.Ledger.ClaimSubdomain(ctx, s.User, fqdn)
	if err != nil || !claimed {
		if err == nil {
			err = invalid("%s is already registered", fqdn)
		}
		log.Error(err, "recording ownership failed, deleting record again", "record", recordID)
		if !m.Registry.DeleteRecord(ctx, fqdn) {
			log.Error(err, "record is left without an owner in the ledger", "record", recordID)
		}
		return m.finish(s, StageFailed, err.Error()), err
	}

	log.Info("subdomain registered", "record", recordID, "type", intent.Type, "content", intent.Target, "proxied", intent.Proxied)
	return m.finish(s, StageConfirmed, ""), nil
}

func (m *Manager) finish(s *Session, stage Stage, detail string) View {
	s.lock.Lock()
	s.stage = stage
	s.detail = detail
	s.stopTimer()
	v := s.view(m)
	s.lock.Unlock()

	m.remove(s)
	return v
}

func (m *Manager) reserve(fqdn, id string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.pending[fqdn]; ok {
		return false
	}
	m.pending[fqdn] = id
	return true
}

func (m *Manager) release(fqdn string) {
	m.lock.Lock()
	delete(m.pending, fqdn)
	m.lock.Unlock()
}

func (m *Manager) remove(s *Session) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	if m.byUser[s.User] == s.ID {
		delete(m.byUser, s.User)
	}
}

// touch restarts the inactivity timer. Caller holds s.lock.
func (m *Manager) touch(s *Session) {
	s.stopTimer()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(m.Timeout, func() { m.expire(s, gen) })
}

func (m *Manager) expire(s *Session, gen uint64) {
	s.lock.Lock()
	if s.gen != gen || s.stage.Terminal() || s.stage == StageSubmitting {
		s.lock.Unlock()
		return
	}
	s.stage = StageTimedOut
	s.timer = nil
	v := s.view(m)
	s.lock.Unlock()

	m.remove(s)
	m.Log.V(1).Info("session timed out", "session", s.ID, "user", s.User, "stage", v.Stage.String())

	if m.OnExpire != nil {
		m.OnExpire(v)
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// view copies the session. Caller holds s.lock.
func (s *Session) view(m *Manager) View {
	v := View{
		ID:         s.ID,
		User:       s.User,
		Stage:      s.stage,
		Domain:     s.intent.Domain,
		RecordType: s.intent.Type,
		Name:       s.intent.Name,
		Target:     s.intent.Target,
		Proxied:    s.intent.Proxied,
		Detail:     s.detail,
	}
	for _, f := range m.Config.Features(s.intent.Type) {
		if val, ok := s.intent.Features[f]; ok {
			v.Features = append(v.Features, Field{Name: f, Value: val})
		}
	}

	switch s.stage {
	case StageSelectDomain:
		v.Options = m.Config.DomainNames()
	case StageSelectRecordType:
		v.Options = append([]string(nil), m.Config.RecordTypes...)
	case StageEnterContent:
		v.Required = append([]string(nil), m.Config.Features(s.intent.Type)...)
	}
	return v
}
