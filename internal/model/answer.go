package model

// Answer is the structured reply handed back to callers. Field tags follow the
// keys the generator is instructed to emit.
type Answer struct {
	Solution       string `json:"solution"`
	Disposition    string `json:"Disposition"`
	SubDisposition string `json:"Sub Disposition"`
	Priority       string `json:"Priority"`
}
