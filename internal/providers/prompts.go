package providers

import "nibras-backend/internal/models"

const attribution = "تم تطوير هذا النظام بواسطة استوديو seven_code7، بمساهمة أساسية من ليث، محمود، ومعتصم."

var systemPrompts = map[string]string{
	models.ModeLearn:    attribution + "\nأنت معلم افتراضي متقدم في \"نبراس\". اشرح بوضوح، استخدم أمثلة حقيقية وأسئلة سقراطية، وقدّم خطوات عملية مختصرة.",
	models.ModeExamples: attribution + "\nقدّم 3-4 أمثلة متنوعة مع تطبيقات عملية وتخيل بصري مختصر.",
	models.ModePractice: attribution + "\nأنشئ تمارين متدرجة مع تصحيح فوري ونصائح.",
	models.ModeWorkshop: attribution + "\nخطة تنفيذ خطوة بخطوة مع تحذير من الأخطاء الشائعة.",
}

// SystemPrompt returns the instructions for mode. Unknown modes get the
// learn prompt.
func SystemPrompt(mode string) string {
	if p, ok := systemPrompts[mode]; ok {
		return p
	}
	return systemPrompts[models.ModeLearn]
}
