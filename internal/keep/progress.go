package keep

// DefaultProgressMax is the progress budget of a whole batch.
const DefaultProgressMax = 100

// ProgressRecord reports how far a batch has come. Progress is cumulative
// over the batch and lies in [0, Max].
type ProgressRecord struct {
	PackageID string
	Name      string
	Icon      string
	Progress  int
	Max       int
	Label     string

	// Done marks the last record for an application. Err is set when the
	// application failed.
	Done bool
	Err  error
}

// ProgressSink receives progress records. Publish must not block the
// producer for long; slow consumers drop or batch records themselves.
type ProgressSink interface {
	Publish(ProgressRecord)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressRecord)

func (f ProgressFunc) Publish(r ProgressRecord) { f(r) }

type nopSink struct{}

func (nopSink) Publish(ProgressRecord) {}

// progressAt returns the cumulative value after step of steps for the
// application at index of total. The budget is split evenly across
// applications and each share evenly across steps; the last step of an
// application lands exactly on the end of its share.
func progressAt(budget, total, index, step, steps int) int {
	if total <= 0 || steps <= 0 {
		return 0
	}
	return budget * (index*steps + step) / (total * steps)
}

// tracker emits the records of one application within a batch.
type tracker struct {
	sink  ProgressSink
	max   int
	total int
	index int
	steps int

	packageID string
	name      string
	icon      string
	last      int
}

func newTracker(sink ProgressSink, budget, total, index, steps int, packageID string) *tracker {
	t := &tracker{
		sink:      sink,
		max:       budget,
		total:     total,
		index:     index,
		steps:     steps,
		packageID: packageID,
		name:      packageID,
	}
	t.last = progressAt(budget, total, index, 0, steps)
	return t
}

// describe attaches the resolved descriptor to subsequent records.
func (t *tracker) describe(app *Application) {
	t.name = app.Label()
	t.icon = app.Icon
}

func (t *tracker) step(step int, label string) {
	t.emit(progressAt(t.max, t.total, t.index, step, t.steps), label, step == t.steps, nil)
}

// fail emits the terminal failure record. The application's share counts as
// consumed so the batch total stays monotonic.
func (t *tracker) fail(label string, err error) {
	t.emit(progressAt(t.max, t.total, t.index, t.steps, t.steps), label, true, err)
}

func (t *tracker) emit(value int, label string, done bool, err error) {
	if value < t.last {
		value = t.last
	}
	t.last = value
	t.sink.Publish(ProgressRecord{
		PackageID: t.packageID,
		Name:      t.name,
		Icon:      t.icon,
		Progress:  value,
		Max:       t.max,
		Label:     label,
		Done:      done,
		Err:       err,
	})
}
