package config

type WorkerKeyStruct struct {
	SubmissionQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SubmissionQueue: "submission_jobs_queue",
}
