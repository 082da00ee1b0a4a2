// internal/agent/guidance_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFinalActionClick(t *testing.T) {
	cases := []struct {
		name   string
		target string
		step   string
		want   bool
	}{
		{"Empty Target", "", "Click create", false},
		{"New Button Opens Modal", "New Project", "Click the New Project button", false},
		{"New Issue Button", "New issue", "Click New issue to open the form", false},
		{"Explicit Submit", "Submit", "Click Submit", true},
		{"Save Anywhere", "Save changes", "", true},
		{"Delete Is Always Final", "Delete workspace", "Click Delete workspace", true},
		{"Create With Create Step", "Create Project", "Click Create Project to finish", true},
		{"Create Target Alone", "Create", "", true},
		{"Create While Opening Modal", "Create", "Open the create modal to see the fields", false},
		{"Submit Despite Opening Step", "Submit", "Click on the Submit button", true},
		{"Continue With Context", "Continue", "Click continue to move on", true},
		{"Continue Without Context", "Continue", "Pick a template", false},
		{"Final Step Pattern", "Projects", "This is the final step of the flow", true},
		{"To Create Pattern", "Project", "Fill the name field to create the project", true},
		{"Plain Navigation", "Projects", "Click on Projects in the sidebar", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFinalActionClick(tc.target, tc.step))
		})
	}
}

func TestIsOptionalStep(t *testing.T) {
	assert.True(t, IsOptionalStep("Optionally, add a description"))
	assert.True(t, IsOptionalStep("This step is optional"))
	assert.False(t, IsOptionalStep("Click New Project"))
	assert.False(t, IsOptionalStep(""))
}

func TestIsDescriptiveStep(t *testing.T) {
	assert.True(t, IsDescriptiveStep("The modal contains fields such as name and team"))
	assert.True(t, IsDescriptiveStep("A dialog will appear"))
	assert.True(t, IsDescriptiveStep("- Name: the project name"))
	assert.True(t, IsDescriptiveStep("Here you would fill the name field"))
	assert.False(t, IsDescriptiveStep("Click New Project"))
}
