package domain

// Task is one step of a pipeline.
type Task struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Description string   `json:"description,omitempty"`
	TaskURL     string   `json:"taskUrl,omitempty"`
	Downstream  []string `json:"downstreamTasks,omitempty"`
}

// Pipeline is a versioned data pipeline entity.
type Pipeline struct {
	EntityHeader
	PipelineURL string `json:"pipelineUrl,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Tasks       []Task `json:"tasks,omitempty"`
	ServiceFQN  string `json:"serviceFQN,omitempty"`
}

func (p *Pipeline) EntityType() string    { return EntityTypePipeline }
func (p *Pipeline) Header() *EntityHeader { return &p.EntityHeader }

// Clone returns a deep copy of the pipeline.
func (p *Pipeline) Clone() Entity {
	clone := *p
	clone.EntityHeader = cloneHeader(p.EntityHeader)
	if p.Tasks != nil {
		clone.Tasks = make([]Task, len(p.Tasks))
		for i, task := range p.Tasks {
			clone.Tasks[i] = task
			if task.Downstream != nil {
				clone.Tasks[i].Downstream = make([]string, len(task.Downstream))
				copy(clone.Tasks[i].Downstream, task.Downstream)
			}
		}
	}
	return &clone
}
