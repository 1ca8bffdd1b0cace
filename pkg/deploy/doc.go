// Package deploy runs validated chart installs on a fixed pool of workers.
//
// Submit only enqueues; the outcome of a task is logged and counted but
// never reported back to the submitter. Callers observe results by querying
// release status on the cluster. Every task builds its own kubeconfig and
// removes it, together with any uploaded values file, when the task ends.
package deploy
