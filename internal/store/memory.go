package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memProfile struct {
	idNumber string
	grades   [4]*float64
	mastery  *float64
	snapshot *Snapshot
}

// MemoryStore keeps everything in process. It models both layouts so callers can be
// exercised against either: legacy keeps one row per user, normalized keeps accounts and
// profiles apart and creates a profile lazily.
type MemoryStore struct {
	mode SchemaMode
	now  func() time.Time

	mu          sync.Mutex
	users       map[string]*memProfile // legacy rows, keyed by user id
	accounts    map[string]StudentAccount
	profiles    map[string]*memProfile // normalized profiles
	challenges  map[uuid.UUID]Challenge
	submissions []ChallengeSubmission
	attendance  []AttendanceRecord
	activities  []ExtracurricularActivity
	weights     *ScoreWeights
	faults      map[string]error
	stalls      map[string]bool

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemoryStore(mode SchemaMode) *MemoryStore {
	if mode == ModeUnknown {
		mode = ModeNormalized
	}
	return &MemoryStore{
		mode:       mode,
		now:        time.Now,
		users:      make(map[string]*memProfile),
		accounts:   make(map[string]StudentAccount),
		profiles:   make(map[string]*memProfile),
		challenges: make(map[uuid.UUID]Challenge),
		faults:     make(map[string]error),
		stalls:     make(map[string]bool),
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the time source used for generated timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// FailOn makes every call to op return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// StallOn makes every call to op block until its context is done, or stops doing so
// when stall is false.
func (s *MemoryStore) StallOn(op string, stall bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !stall {
		delete(s.stalls, op)
		return
	}
	s.stalls[op] = true
}

func (s *MemoryStore) Mode() SchemaMode { return s.mode }
func (s *MemoryStore) Close() error     { return nil }

func (s *MemoryStore) studentLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// WithStudentTx serializes on userID and undoes every change fn made if it fails.
func (s *MemoryStore) WithStudentTx(ctx context.Context, userID string, fn func(tx Facts) error) error {
	l := s.studentLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return Unavailable("begin transaction", err)
	}

	tx := &memFacts{s: s, undo: &[]func(){}}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
		if err != nil {
			err = Unavailable("commit transaction", err)
		}
	}
	if err != nil {
		s.mu.Lock()
		undo := *tx.undo
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Facts outside a transaction delegate to an auto-committing view.
func (s *MemoryStore) facts() *memFacts { return &memFacts{s: s} }

func (s *MemoryStore) FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error) {
	return s.facts().FindUserIDByIDNumber(ctx, idNumber)
}
func (s *MemoryStore) FindUserIDByLoginName(ctx context.Context, loginName string) (string, error) {
	return s.facts().FindUserIDByLoginName(ctx, loginName)
}
func (s *MemoryStore) UserExists(ctx context.Context, userID string) (bool, error) {
	return s.facts().UserExists(ctx, userID)
}
func (s *MemoryStore) GetAccount(ctx context.Context, userID string) (*StudentAccount, error) {
	return s.facts().GetAccount(ctx, userID)
}
func (s *MemoryStore) CreateStudent(ctx context.Context, account *StudentAccount) error {
	return s.facts().CreateStudent(ctx, account)
}
func (s *MemoryStore) ListStudentIDs(ctx context.Context) ([]string, error) {
	return s.facts().ListStudentIDs(ctx)
}
func (s *MemoryStore) GetGrades(ctx context.Context, userID string) (*GradeRecord, error) {
	return s.facts().GetGrades(ctx, userID)
}
func (s *MemoryStore) SetGrade(ctx context.Context, userID string, year int, value *float64) error {
	return s.facts().SetGrade(ctx, userID, year, value)
}
func (s *MemoryStore) GetMastery(ctx context.Context, userID string) (*MasteryRecord, error) {
	return s.facts().GetMastery(ctx, userID)
}
func (s *MemoryStore) SetMastery(ctx context.Context, userID string, pct float64) error {
	return s.facts().SetMastery(ctx, userID, pct)
}
func (s *MemoryStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	return s.facts().CreateChallenge(ctx, c)
}
func (s *MemoryStore) ChallengeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.facts().ChallengeExists(ctx, id)
}
func (s *MemoryStore) ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.facts().ListActiveChallengeIDs(ctx)
}
func (s *MemoryStore) CreateChallengeSubmission(ctx context.Context, sub *ChallengeSubmission) error {
	return s.facts().CreateChallengeSubmission(ctx, sub)
}
func (s *MemoryStore) ListChallengeSubmissions(ctx context.Context, userID string) ([]ChallengeSubmission, error) {
	return s.facts().ListChallengeSubmissions(ctx, userID)
}
func (s *MemoryStore) CreateAttendance(ctx context.Context, rec *AttendanceRecord) error {
	return s.facts().CreateAttendance(ctx, rec)
}
func (s *MemoryStore) SetAttendanceVerified(ctx context.Context, userID string, id uuid.UUID, verified bool) (*AttendanceRecord, error) {
	return s.facts().SetAttendanceVerified(ctx, userID, id, verified)
}
func (s *MemoryStore) DeleteAttendance(ctx context.Context, userID string, id uuid.UUID) error {
	return s.facts().DeleteAttendance(ctx, userID, id)
}
func (s *MemoryStore) ListAttendance(ctx context.Context, userID string) ([]AttendanceRecord, error) {
	return s.facts().ListAttendance(ctx, userID)
}
func (s *MemoryStore) CreateExtracurricular(ctx context.Context, act *ExtracurricularActivity) error {
	return s.facts().CreateExtracurricular(ctx, act)
}
func (s *MemoryStore) DeleteExtracurricular(ctx context.Context, userID string, id uuid.UUID) error {
	return s.facts().DeleteExtracurricular(ctx, userID, id)
}
func (s *MemoryStore) ListExtracurricular(ctx context.Context, userID string) ([]ExtracurricularActivity, error) {
	return s.facts().ListExtracurricular(ctx, userID)
}
func (s *MemoryStore) GetWeights(ctx context.Context) (*ScoreWeights, error) {
	return s.facts().GetWeights(ctx)
}
func (s *MemoryStore) SaveWeights(ctx context.Context, w *ScoreWeights) error {
	return s.facts().SaveWeights(ctx, w)
}
func (s *MemoryStore) GetSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	return s.facts().GetSnapshot(ctx, userID)
}
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return s.facts().SaveSnapshot(ctx, snap)
}
func (s *MemoryStore) MarkSnapshotStale(ctx context.Context, userID string) error {
	return s.facts().MarkSnapshotStale(ctx, userID)
}
func (s *MemoryStore) ListSnapshots(ctx context.Context, limit int) ([]RankedSnapshot, error) {
	return s.facts().ListSnapshots(ctx, limit)
}

// memFacts is one view over the store. Inside a transaction undo is non-nil and
// collects the inverse of every mutation.
type memFacts struct {
	s    *MemoryStore
	undo *[]func()
}

// begin locks the data and checks for an injected fault or a dead context.
func (f *memFacts) begin(ctx context.Context, op string) error {
	f.s.mu.Lock()
	if err := f.s.faults[op]; err != nil {
		f.s.mu.Unlock()
		return Unavailable(op, err)
	}
	if f.s.stalls[op] {
		f.s.mu.Unlock()
		<-ctx.Done()
		return Unavailable(op, ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		f.s.mu.Unlock()
		return Unavailable(op, err)
	}
	return nil
}

func (f *memFacts) end() { f.s.mu.Unlock() }

func (f *memFacts) onRollback(fn func()) {
	if f.undo != nil {
		*f.undo = append(*f.undo, fn)
	}
}

// profile returns the profile row for userID; create mirrors the normalized layout's
// insert-if-missing. Caller holds s.mu.
func (f *memFacts) profile(userID string, create bool) *memProfile {
	s := f.s
	if s.mode == ModeLegacy {
		return s.users[userID]
	}
	p := s.profiles[userID]
	if p == nil && create {
		if _, ok := s.accounts[userID]; !ok {
			return nil
		}
		p = &memProfile{}
		s.profiles[userID] = p
		f.onRollback(func() { delete(s.profiles, userID) })
	}
	return p
}

func (f *memFacts) accountExists(userID string) bool {
	if f.s.mode == ModeLegacy {
		return f.s.users[userID] != nil
	}
	_, ok := f.s.accounts[userID]
	return ok
}

func (f *memFacts) FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error) {
	if err := f.begin(ctx, "FindUserIDByIDNumber"); err != nil {
		return "", err
	}
	defer f.end()

	rows := f.s.profiles
	if f.s.mode == ModeLegacy {
		rows = f.s.users
	}
	var match string
	for id, p := range rows {
		if p.idNumber == idNumber && idNumber != "" && (match == "" || id < match) {
			match = id
		}
	}
	return match, nil
}

func (f *memFacts) FindUserIDByLoginName(ctx context.Context, loginName string) (string, error) {
	if err := f.begin(ctx, "FindUserIDByLoginName"); err != nil {
		return "", err
	}
	defer f.end()

	for id, a := range f.s.accounts {
		if a.LoginName == loginName {
			return id, nil
		}
	}
	return "", nil
}

func (f *memFacts) UserExists(ctx context.Context, userID string) (bool, error) {
	if err := f.begin(ctx, "UserExists"); err != nil {
		return false, err
	}
	defer f.end()
	return f.accountExists(userID), nil
}

func (f *memFacts) GetAccount(ctx context.Context, userID string) (*StudentAccount, error) {
	if err := f.begin(ctx, "GetAccount"); err != nil {
		return nil, err
	}
	defer f.end()

	a, ok := f.s.accounts[userID]
	if !ok {
		return nil, nil
	}
	if p := f.profile(userID, false); p != nil {
		a.IDNumber = p.idNumber
	}
	return &a, nil
}

func (f *memFacts) CreateStudent(ctx context.Context, account *StudentAccount) error {
	if err := f.begin(ctx, "CreateStudent"); err != nil {
		return err
	}
	defer f.end()

	s := f.s
	if _, ok := s.accounts[account.UserID]; ok {
		return Invalid("student %s already exists", account.UserID)
	}
	for _, a := range s.accounts {
		if a.LoginName == account.LoginName {
			return Invalid("login name %s already taken", account.LoginName)
		}
	}
	if s.mode == ModeNormalized && account.IDNumber != "" {
		for _, p := range s.profiles {
			if p.idNumber == account.IDNumber {
				return Invalid("id number %s already taken", account.IDNumber)
			}
		}
	}

	stored := *account
	stored.IDNumber = ""
	s.accounts[account.UserID] = stored
	p := &memProfile{idNumber: account.IDNumber}
	if s.mode == ModeLegacy {
		s.users[account.UserID] = p
	} else {
		s.profiles[account.UserID] = p
	}
	f.onRollback(func() {
		delete(s.accounts, account.UserID)
		delete(s.users, account.UserID)
		delete(s.profiles, account.UserID)
	})
	return nil
}

func (f *memFacts) ListStudentIDs(ctx context.Context) ([]string, error) {
	if err := f.begin(ctx, "ListStudentIDs"); err != nil {
		return nil, err
	}
	defer f.end()

	ids := make([]string, 0, len(f.s.accounts))
	for id := range f.s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *memFacts) GetGrades(ctx context.Context, userID string) (*GradeRecord, error) {
	if err := f.begin(ctx, "GetGrades"); err != nil {
		return nil, err
	}
	defer f.end()

	p := f.profile(userID, false)
	if p == nil {
		return nil, nil
	}
	g := &GradeRecord{UserID: userID}
	for i, v := range p.grades {
		if v != nil {
			val := *v
			g.Years[i] = &val
		}
	}
	return g, nil
}

func (f *memFacts) SetGrade(ctx context.Context, userID string, year int, value *float64) error {
	if year < 1 || year > 4 {
		return Invalid("year must be between 1 and 4, got %d", year)
	}
	if err := f.begin(ctx, "SetGrade"); err != nil {
		return err
	}
	defer f.end()

	p := f.profile(userID, true)
	if p == nil {
		return fmt.Errorf("student %s: %w", userID, ErrNotFound)
	}
	old := p.grades[year-1]
	if value != nil {
		v := *value
		value = &v
	}
	p.grades[year-1] = value
	f.onRollback(func() { p.grades[year-1] = old })
	return nil
}

func (f *memFacts) GetMastery(ctx context.Context, userID string) (*MasteryRecord, error) {
	if err := f.begin(ctx, "GetMastery"); err != nil {
		return nil, err
	}
	defer f.end()

	p := f.profile(userID, false)
	if p == nil {
		return nil, nil
	}
	m := &MasteryRecord{UserID: userID}
	if p.mastery != nil {
		v := *p.mastery
		m.Percentage = &v
	}
	return m, nil
}

func (f *memFacts) SetMastery(ctx context.Context, userID string, pct float64) error {
	if err := f.begin(ctx, "SetMastery"); err != nil {
		return err
	}
	defer f.end()

	p := f.profile(userID, true)
	if p == nil {
		return fmt.Errorf("student %s: %w", userID, ErrNotFound)
	}
	old := p.mastery
	p.mastery = &pct
	f.onRollback(func() { p.mastery = old })
	return nil
}

func (f *memFacts) CreateChallenge(ctx context.Context, c *Challenge) error {
	if err := f.begin(ctx, "CreateChallenge"); err != nil {
		return err
	}
	defer f.end()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := f.s.challenges[c.ID]; ok {
		return Invalid("challenge %s already exists", c.ID)
	}
	c.CreatedAt = f.s.now()
	f.s.challenges[c.ID] = *c
	id := c.ID
	f.onRollback(func() { delete(f.s.challenges, id) })
	return nil
}

func (f *memFacts) ChallengeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := f.begin(ctx, "ChallengeExists"); err != nil {
		return false, err
	}
	defer f.end()
	_, ok := f.s.challenges[id]
	return ok, nil
}

func (f *memFacts) ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := f.begin(ctx, "ListActiveChallengeIDs"); err != nil {
		return nil, err
	}
	defer f.end()

	var ids []uuid.UUID
	for id, c := range f.s.challenges {
		if c.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *memFacts) CreateChallengeSubmission(ctx context.Context, sub *ChallengeSubmission) error {
	if err := f.begin(ctx, "CreateChallengeSubmission"); err != nil {
		return err
	}
	defer f.end()

	if _, ok := f.s.challenges[sub.ChallengeID]; !ok {
		return fmt.Errorf("challenge %s: %w", sub.ChallengeID, ErrNotFound)
	}
	if sub.Percentage < 0 || sub.Percentage > 100 {
		return Invalid("percentage must be between 0 and 100")
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.SubmittedAt = f.s.now()
	f.s.submissions = append(f.s.submissions, *sub)
	id := sub.ID
	f.onRollback(func() {
		f.s.submissions = removeWhere(f.s.submissions, func(x ChallengeSubmission) bool { return x.ID == id })
	})
	return nil
}

func (f *memFacts) ListChallengeSubmissions(ctx context.Context, userID string) ([]ChallengeSubmission, error) {
	if err := f.begin(ctx, "ListChallengeSubmissions"); err != nil {
		return nil, err
	}
	defer f.end()
	return filter(f.s.submissions, func(x ChallengeSubmission) bool { return x.UserID == userID }), nil
}

func (f *memFacts) CreateAttendance(ctx context.Context, rec *AttendanceRecord) error {
	if err := f.begin(ctx, "CreateAttendance"); err != nil {
		return err
	}
	defer f.end()

	if rec.Points < 0 {
		return Invalid("points must not be negative")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.RecordedAt = f.s.now()
	f.s.attendance = append(f.s.attendance, *rec)
	id := rec.ID
	f.onRollback(func() { f.s.attendance = removeWhere(f.s.attendance, func(x AttendanceRecord) bool { return x.ID == id }) })
	return nil
}

func (f *memFacts) SetAttendanceVerified(ctx context.Context, userID string, id uuid.UUID, verified bool) (*AttendanceRecord, error) {
	if err := f.begin(ctx, "SetAttendanceVerified"); err != nil {
		return nil, err
	}
	defer f.end()

	for i := range f.s.attendance {
		r := &f.s.attendance[i]
		if r.ID != id || r.UserID != userID {
			continue
		}
		old := r.Verified
		r.Verified = verified
		f.onRollback(func() {
			for j := range f.s.attendance {
				if f.s.attendance[j].ID == id {
					f.s.attendance[j].Verified = old
				}
			}
		})
		out := *r
		return &out, nil
	}
	return nil, fmt.Errorf("attendance record %s: %w", id, ErrNotFound)
}

func (f *memFacts) DeleteAttendance(ctx context.Context, userID string, id uuid.UUID) error {
	if err := f.begin(ctx, "DeleteAttendance"); err != nil {
		return err
	}
	defer f.end()

	for i, r := range f.s.attendance {
		if r.ID == id && r.UserID == userID {
			f.s.attendance = append(f.s.attendance[:i:i], f.s.attendance[i+1:]...)
			f.onRollback(func() { f.s.attendance = append(f.s.attendance, r) })
			return nil
		}
	}
	return fmt.Errorf("attendance record %s: %w", id, ErrNotFound)
}

func (f *memFacts) ListAttendance(ctx context.Context, userID string) ([]AttendanceRecord, error) {
	if err := f.begin(ctx, "ListAttendance"); err != nil {
		return nil, err
	}
	defer f.end()
	return filter(f.s.attendance, func(x AttendanceRecord) bool { return x.UserID == userID }), nil
}

func (f *memFacts) CreateExtracurricular(ctx context.Context, act *ExtracurricularActivity) error {
	if err := f.begin(ctx, "CreateExtracurricular"); err != nil {
		return err
	}
	defer f.end()

	if act.Score < 0 {
		return Invalid("score must not be negative")
	}
	if act.ID == uuid.Nil {
		act.ID = uuid.New()
	}
	act.RecordedAt = f.s.now()
	f.s.activities = append(f.s.activities, *act)
	id := act.ID
	f.onRollback(func() {
		f.s.activities = removeWhere(f.s.activities, func(x ExtracurricularActivity) bool { return x.ID == id })
	})
	return nil
}

func (f *memFacts) DeleteExtracurricular(ctx context.Context, userID string, id uuid.UUID) error {
	if err := f.begin(ctx, "DeleteExtracurricular"); err != nil {
		return err
	}
	defer f.end()

	for i, a := range f.s.activities {
		if a.ID == id && a.UserID == userID {
			f.s.activities = append(f.s.activities[:i:i], f.s.activities[i+1:]...)
			f.onRollback(func() { f.s.activities = append(f.s.activities, a) })
			return nil
		}
	}
	return fmt.Errorf("extracurricular activity %s: %w", id, ErrNotFound)
}

func (f *memFacts) ListExtracurricular(ctx context.Context, userID string) ([]ExtracurricularActivity, error) {
	if err := f.begin(ctx, "ListExtracurricular"); err != nil {
		return nil, err
	}
	defer f.end()
	return filter(f.s.activities, func(x ExtracurricularActivity) bool { return x.UserID == userID }), nil
}

func (f *memFacts) GetWeights(ctx context.Context) (*ScoreWeights, error) {
	if err := f.begin(ctx, "GetWeights"); err != nil {
		return nil, err
	}
	defer f.end()

	if f.s.weights == nil {
		return nil, nil
	}
	w := *f.s.weights
	return &w, nil
}

func (f *memFacts) SaveWeights(ctx context.Context, w *ScoreWeights) error {
	if err := f.begin(ctx, "SaveWeights"); err != nil {
		return err
	}
	defer f.end()

	old := f.s.weights
	w.UpdatedAt = f.s.now()
	stored := *w
	f.s.weights = &stored
	f.onRollback(func() { f.s.weights = old })
	return nil
}

func (f *memFacts) GetSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	if err := f.begin(ctx, "GetSnapshot"); err != nil {
		return nil, err
	}
	defer f.end()

	p := f.profile(userID, false)
	if p == nil || p.snapshot == nil {
		return nil, nil
	}
	snap := *p.snapshot
	return &snap, nil
}

func (f *memFacts) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := f.begin(ctx, "SaveSnapshot"); err != nil {
		return err
	}
	defer f.end()

	p := f.profile(snap.UserID, true)
	if p == nil {
		return fmt.Errorf("student %s: %w", snap.UserID, ErrNotFound)
	}
	old := p.snapshot
	stored := *snap
	p.snapshot = &stored
	f.onRollback(func() { p.snapshot = old })
	return nil
}

func (f *memFacts) MarkSnapshotStale(ctx context.Context, userID string) error {
	if err := f.begin(ctx, "MarkSnapshotStale"); err != nil {
		return err
	}
	defer f.end()

	p := f.profile(userID, false)
	if p == nil || p.snapshot == nil {
		return nil
	}
	old := *p.snapshot
	p.snapshot.Stale = true
	f.onRollback(func() { *p.snapshot = old })
	return nil
}

func (f *memFacts) ListSnapshots(ctx context.Context, limit int) ([]RankedSnapshot, error) {
	if limit == 0 {
		limit = DefaultSnapshotLimit
	}
	if err := f.begin(ctx, "ListSnapshots"); err != nil {
		return nil, err
	}
	defer f.end()

	rows := f.s.profiles
	if f.s.mode == ModeLegacy {
		rows = f.s.users
	}
	var out []RankedSnapshot
	for id, p := range rows {
		if p.snapshot != nil {
			out = append(out, RankedSnapshot{UserID: id, Score: p.snapshot.Score, Badge: p.snapshot.Badge})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = int64(i + 1)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, x := range in {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}

func removeWhere[T any](in []T, drop func(T) bool) []T {
	out := in[:0:0]
	for _, x := range in {
		if !drop(x) {
			out = append(out, x)
		}
	}
	return out
}
