package screenshot

import "time"

// Job is one attempt to capture a single URL. Index is the position of the
// target in the submitted list and survives retries; Attempt counts prior tries.
type Job struct {
	Index   int
	URL     string
	Attempt int
}

// Next returns the retry of j with its attempt count advanced.
func (j Job) Next() Job {
	return Job{Index: j.Index, URL: j.URL, Attempt: j.Attempt + 1}
}

// NewJobs builds first-attempt jobs for urls in submission order.
func NewJobs(urls []string) []Job {
	jobs := make([]Job, 0, len(urls))
	for i, u := range urls {
		jobs = append(jobs, Job{Index: i, URL: u})
	}
	return jobs
}

// Capture is what a backend session returns for a rendered page.
type Capture struct {
	Image      []byte
	Title      string
	StatusCode int
}

// Outcome is the terminal result of dispatching one Job.
type Outcome struct {
	Job        Job
	Image      []byte
	Title      string
	StatusCode int
	Succeeded  bool
	Err        error
	Kind       ErrorKind
	Worker     int
	Duration   time.Duration
}

// Succeeded builds a success Outcome for job.
func Succeeded(job Job, capture Capture, worker int, dur time.Duration) Outcome {
	return Outcome{
		Job:        job,
		Image:      capture.Image,
		Title:      capture.Title,
		StatusCode: capture.StatusCode,
		Succeeded:  true,
		Worker:     worker,
		Duration:   dur,
	}
}

// Failed builds a failure Outcome for job, classifying err.
func Failed(job Job, err error, worker int, dur time.Duration) Outcome {
	out := Outcome{
		Job:      job,
		Err:      err,
		Kind:     Classify(err),
		Worker:   worker,
		Duration: dur,
	}
	var statusErr *HTTPStatusError
	if AsHTTPStatus(err, &statusErr) {
		out.StatusCode = statusErr.StatusCode
	}
	return out
}

// Synthetic reports whether the outcome carries no job, which is the case for
// worker-level failures such as a browser that never started.
func (o Outcome) Synthetic() bool {
	return o.Job.URL == ""
}

// ErrorText returns the failure message or "" on success.
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Success is one captured page in the final ResultSet.
type Success struct {
	URL   string
	Image []byte
	Title string
}

// ResultSet holds successes and permanent failures in completion order.
type ResultSet struct {
	Successes []Success
	Failures  []string
}

// Total is the number of URLs with a terminal disposition.
func (r ResultSet) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// Clone returns a copy whose slices do not alias r.
func (r ResultSet) Clone() ResultSet {
	return ResultSet{
		Successes: append([]Success(nil), r.Successes...),
		Failures:  append([]string(nil), r.Failures...),
	}
}
